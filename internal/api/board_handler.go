package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/bridgeplate/internal/errors"
	"github.com/wfunc/bridgeplate/internal/hardware"
)

// 块模式输出结束后通过HTTP trailer报告结果
const (
	trailerComplete = "X-Dump-Complete"
	trailerError    = "X-Dump-Error"
)

// BoardHandler 板卡相关处理器
type BoardHandler struct {
	bridge  *hardware.Bridge
	locator *hardware.PortLocator
}

// NewBoardHandler 创建板卡处理器
func NewBoardHandler(bridge *hardware.Bridge, locator *hardware.PortLocator) *BoardHandler {
	return &BoardHandler{
		bridge:  bridge,
		locator: locator,
	}
}

// CallRequest 行模式调用请求
type CallRequest struct {
	Args []interface{} `json:"args"`
}

// CallResponse 行模式调用结果
type CallResponse struct {
	Command string         `json:"command"`
	Value   hardware.Value `json:"value"`
	Raw     string         `json:"raw"`
	Empty   bool           `json:"empty"` // 板卡没有应答
}

// boardInfo 板卡类型描述
type boardInfo struct {
	Namespace   hardware.Namespace `json:"namespace"`
	Label       string             `json:"label"`
	Description string             `json:"description"`
	Addressable bool               `json:"addressable"`
	Methods     []string           `json:"methods"`
	Dumps       []string           `json:"dumps"`
}

func newBoardInfo(ns hardware.Namespace) boardInfo {
	entry := ns.Catalog()
	return boardInfo{
		Namespace:   ns,
		Label:       ns.PlateLabel(),
		Description: entry.Description,
		Addressable: ns.Addressable(),
		Methods:     entry.Methods,
		Dumps:       entry.Dumps,
	}
}

// GetDevice 已连接的BRIDGEplate信息
func (h *BoardHandler) GetDevice(c *gin.Context) {
	resp := gin.H{"port": h.bridge.Port()}
	for _, method := range []string{"getID", "getHWrev", "getFWrev"} {
		value, err := h.bridge.Call(hardware.NamespaceBridge, method)
		if err != nil {
			respondError(c, err)
			return
		}
		resp[method] = value
	}
	c.JSON(http.StatusOK, resp)
}

// ListPorts 枚举主机串口
func (h *BoardHandler) ListPorts(c *gin.Context) {
	ports, err := h.locator.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  ports,
		"count": len(ports),
	})
}

// Scan 扫描总线；format=text 时返回文本表格
func (h *BoardHandler) Scan(c *gin.Context) {
	matrix, err := h.bridge.Scan()
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		var buf bytes.Buffer
		matrix.Format(&buf)
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
		return
	}
	c.JSON(http.StatusOK, matrix)
}

// ListBoards 所有板卡类型及其方法
func (h *BoardHandler) ListBoards(c *gin.Context) {
	namespaces := hardware.Namespaces()
	boards := make([]boardInfo, 0, len(namespaces))
	for _, ns := range namespaces {
		boards = append(boards, newBoardInfo(ns))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  boards,
		"count": len(boards),
	})
}

// GetBoard 单个板卡类型
func (h *BoardHandler) GetBoard(c *gin.Context) {
	ns, err := hardware.ParseNamespace(c.Param("ns"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newBoardInfo(ns))
}

// Call 行模式调用 NS.method(args...)
func (h *BoardHandler) Call(c *gin.Context) {
	ns, err := hardware.ParseNamespace(c.Param("ns"))
	if err != nil {
		respondError(c, err)
		return
	}
	method := c.Param("method")

	args, err := decodeArgs(c.Request.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	// 先编码，保证参数错误时不向总线发送任何内容
	command, err := hardware.Encode(ns, method, args...)
	if err != nil {
		respondError(c, err)
		return
	}

	value, err := h.bridge.Call(ns, method, args...)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, CallResponse{
		Command: command,
		Value:   value,
		Raw:     value.String(),
		Empty:   value.IsEmpty(),
	})
}

// Dump 块模式调用，输出以text/plain流式返回
func (h *BoardHandler) Dump(c *gin.Context) {
	ns, err := hardware.ParseNamespace(c.Param("ns"))
	if err != nil {
		respondError(c, err)
		return
	}
	method := c.Param("method")
	if !ns.HasDump(method) {
		respondError(c, errors.Newf(errors.ErrUnknownMethod, "%s.%s 不是块模式方法", ns, method))
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Add("Trailer", trailerComplete)
	header.Add("Trailer", trailerError)
	c.Status(http.StatusOK)

	_, complete, err := h.bridge.Dump(ns, method, &flushWriter{w: c.Writer})

	header.Set(trailerComplete, strconv.FormatBool(complete))
	if err != nil {
		header.Set(trailerError, err.Error())
	}
}

// flushWriter 每次写入后立即推送给客户端
type flushWriter struct {
	w gin.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

// decodeArgs 解析 {"args":[...]}，数字保持原始书写
func decodeArgs(body io.Reader) ([]interface{}, error) {
	if body == nil {
		return nil, nil
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var req CallRequest
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrInvalidArgument)
	}

	for i, arg := range req.Args {
		switch arg.(type) {
		case json.Number, string, bool:
		default:
			return nil, errors.Newf(errors.ErrInvalidArgument, "第%d个参数必须是数字、字符串或布尔值", i+1)
		}
	}
	return req.Args, nil
}
