package hardware

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/wfunc/bridgeplate/internal/errors"
)

// ScalarKind 标量类型
type ScalarKind int

const (
	KindString ScalarKind = iota
	KindInt
	KindFloat
)

func (k ScalarKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "string"
	}
}

// Scalar 应答中的单个字段
type Scalar struct {
	Kind  ScalarKind
	Int   int64
	Big   *big.Int // 超出int64范围的整数，此时Int为0
	Float float64
	Text  string // 原始（已去空白）文本
}

// Interface 返回对应的Go值：int64、float64或string
func (s Scalar) Interface() interface{} {
	switch s.Kind {
	case KindInt:
		if s.Big != nil {
			return s.Big
		}
		return s.Int
	case KindFloat:
		return s.Float
	default:
		return s.Text
	}
}

func (s Scalar) String() string {
	return s.Text
}

// MarshalJSON 数字编码为JSON数字，其余为字符串
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.Kind == KindFloat && (math.IsNaN(s.Float) || math.IsInf(s.Float, 0)) {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Interface())
}

// Value 一次调用的应答：单个标量或有序标量序列
type Value struct {
	items    []Scalar
	sequence bool
}

// SingleValue 构造单值应答
func SingleValue(s Scalar) Value {
	return Value{items: []Scalar{s}}
}

// SequenceValue 构造序列应答
func SequenceValue(items ...Scalar) Value {
	return Value{items: items, sequence: true}
}

// IsSequence 是否为序列
func (v Value) IsSequence() bool { return v.sequence }

// Scalar 单值应答的值；序列返回第一个元素
func (v Value) Scalar() Scalar {
	if len(v.items) == 0 {
		return Scalar{}
	}
	return v.items[0]
}

// Items 序列中的全部元素
func (v Value) Items() []Scalar {
	return append([]Scalar(nil), v.items...)
}

// Len 元素个数
func (v Value) Len() int { return len(v.items) }

// IsEmpty 单值空字符串，表示未收到应答
func (v Value) IsEmpty() bool {
	return !v.sequence && v.Scalar().Kind == KindString && v.Scalar().Text == ""
}

// Interface 返回Go值；序列为[]interface{}
func (v Value) Interface() interface{} {
	if !v.sequence {
		return v.Scalar().Interface()
	}
	out := make([]interface{}, len(v.items))
	for i, s := range v.items {
		out[i] = s.Interface()
	}
	return out
}

func (v Value) String() string {
	if !v.sequence {
		return v.Scalar().Text
	}
	parts := make([]string, len(v.items))
	for i, s := range v.items {
		parts[i] = s.Text
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// MarshalJSON 序列编码为数组
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.sequence {
		return json.Marshal(v.Scalar())
	}
	return json.Marshal(v.items)
}

// CoercePolicy 文本字段到标量的转换策略
type CoercePolicy func(field string) Scalar

// Coerce 默认转换策略：先整数，再浮点，最后原样保留字符串。
// 整数不限位数；浮点溢出得到±Inf
func Coerce(field string) Scalar {
	if isInteger(field) {
		if i, err := strconv.ParseInt(field, 10, 64); err == nil {
			return Scalar{Kind: KindInt, Int: i, Text: field}
		}
		if b, ok := new(big.Int).SetString(field, 10); ok {
			return Scalar{Kind: KindInt, Big: b, Text: field}
		}
	}
	if isDecimalFloat(field) {
		f, err := strconv.ParseFloat(field, 64)
		if err == nil || isRangeError(err) {
			return Scalar{Kind: KindFloat, Float: f, Text: field}
		}
	}
	return Scalar{Kind: KindString, Text: field}
}

// isRangeError ParseFloat 溢出时仍返回±Inf或0
func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

// isInteger 可选符号 + 十进制数字
func isInteger(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isDecimalFloat 排除ParseFloat额外接受的十六进制浮点和下划线写法
func isDecimalFloat(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "xX_pP")
}

// Decode 解析行模式应答
func Decode(reply string, coerce CoercePolicy) Value {
	if coerce == nil {
		coerce = Coerce
	}
	reply = strings.TrimSpace(reply)
	if !strings.Contains(reply, ",") {
		return SingleValue(coerce(reply))
	}
	fields := strings.Split(reply, ",")
	items := make([]Scalar, len(fields))
	for i, f := range fields {
		items[i] = coerce(strings.TrimSpace(f))
	}
	return SequenceValue(items...)
}

// Encode 生成命令行 NS.method(arg1, arg2, ...)，不含换行
func Encode(ns Namespace, method string, args ...interface{}) (string, error) {
	if method == "" {
		return "", errors.New(errors.ErrUnknownMethod, "方法名为空")
	}
	if strings.ContainsAny(method, "\r\n(), ") {
		return "", errors.Newf(errors.ErrInvalidArgument, "方法名包含非法字符: %q", method)
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		s, err := FormatArg(arg)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}

	return string(ns) + "." + method + "(" + strings.Join(parts, ", ") + ")", nil
}

// FormatArg 参数的自然字符串形式
func FormatArg(arg interface{}) (string, error) {
	var s string
	switch v := arg.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		s = fmt.Sprintf("%d", v)
	case float32:
		s = formatFloat(float64(v), 32)
	case float64:
		s = formatFloat(v, 64)
	case bool:
		if v {
			s = "True"
		} else {
			s = "False"
		}
	case json.Number:
		s = v.String()
	case Scalar:
		s = v.Text
	case fmt.Stringer:
		s = v.String()
	case nil:
		return "", errors.New(errors.ErrInvalidArgument, "参数为空")
	default:
		s = fmt.Sprint(v)
	}

	if strings.ContainsAny(s, "\r\n") {
		return "", errors.Newf(errors.ErrInvalidArgument, "参数包含换行: %q", s)
	}
	return s, nil
}

// formatFloat 整数值的浮点数保留 ".0"，与固件期望的书写一致
func formatFloat(f float64, bitSize int) string {
	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// LineExchanger 行模式收发
type LineExchanger interface {
	Query(line string) (string, error)
}

// Codec 命令编解码器，经行模式发送命令并解析应答
type Codec struct {
	link   LineExchanger
	coerce CoercePolicy
}

// NewCodec 创建编解码器
func NewCodec(link LineExchanger) *Codec {
	return &Codec{link: link, coerce: Coerce}
}

// WithPolicy 返回使用另一种转换策略的编解码器
func (c *Codec) WithPolicy(policy CoercePolicy) *Codec {
	return &Codec{link: c.link, coerce: policy}
}

// Call 编码并发送命令，返回解析后的应答
func (c *Codec) Call(ns Namespace, method string, args ...interface{}) (Value, error) {
	line, err := Encode(ns, method, args...)
	if err != nil {
		return Value{}, err
	}
	reply, err := c.link.Query(line)
	if err != nil {
		return Value{}, err
	}
	return Decode(reply, c.coerce), nil
}
