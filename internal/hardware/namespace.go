package hardware

import (
	"sort"
	"strings"

	"github.com/wfunc/bridgeplate/internal/errors"
)

// Namespace 板卡类型命名空间，同一类型的板卡共享一套命令
type Namespace string

const (
	NamespaceADC     Namespace = "ADC"     // 模拟输入板
	NamespaceBridge  Namespace = "BRIDGE"  // 总线桥接板（根板）
	NamespaceCurrent Namespace = "CURRENT" // 4-20mA电流输入板
	NamespaceDAQC    Namespace = "DAQC"    // 数字IO/LED/ADC组合板
	NamespaceDAQC2   Namespace = "DAQC2"   // 数字IO/LED/ADC组合板第二版
	NamespaceDIGI    Namespace = "DIGI"    // 数字输入/事件板
	NamespaceRelay   Namespace = "RELAY"   // 继电器板
	NamespaceRelay2  Namespace = "RELAY2"  // 继电器板第二版
	NamespaceThermo  Namespace = "THERMO"  // 热电偶板
)

// MaxAddress 单一命名空间内的最大板卡地址
const MaxAddress = 7

// ScanOrder 总线扫描的命名空间顺序（BRIDGE为根板，没有地址）
var ScanOrder = []Namespace{
	NamespaceADC,
	NamespaceCurrent,
	NamespaceDAQC,
	NamespaceDAQC2,
	NamespaceDIGI,
	NamespaceRelay,
	NamespaceRelay2,
	NamespaceThermo,
}

// commonMethods 除BRIDGE外每种板卡都支持的方法
var commonMethods = []string{"getADDR", "getID", "getHWrev", "getFWrev"}

var ledMethods = []string{"setLED", "clrLED", "toggleLED"}

var relayMethods = []string{"relayON", "relayOFF", "relayTOGGLE", "relayALL", "relaySTATE"}

// CatalogEntry 板卡命令表条目
type CatalogEntry struct {
	Namespace   Namespace
	Description string
	Methods     []string // 行模式方法
	Dumps       []string // 块模式方法（无参数，以<<<END>>>结束）
}

// catalog 各板卡的方法表
var catalog = map[Namespace]*CatalogEntry{
	NamespaceADC: {
		Namespace:   NamespaceADC,
		Description: "analog input board",
		Methods: join(commonMethods, ledMethods, []string{
			"getADC", "initADC", "getADCall", "getSall", "getDall", "getIall",
			"setMODE", "getMODE",
			"configINPUT", "enableINPUT", "disableINPUT",
			"readSINGLE", "startSINGLE", "getSINGLE",
			"readSCAN", "startSCAN", "getSCAN",
			"getBLOCK", "startBLOCK",
			"startSTREAM", "getSTREAM", "stopSTREAM",
			"getDINbit", "getDINall", "enableDINevent", "disableDINevent",
			"configTRIG", "startTRIG", "stopTRIG", "triggerFREQ", "swTRIGGER", "maxTRIGfreq",
			"enableEVENTS", "disableEVENTS", "check4EVENTS", "getEVENTS",
		}),
		Dumps: []string{"srTable", "help"},
	},
	NamespaceBridge: {
		Namespace:   NamespaceBridge,
		Description: "bus bridge root board",
		Methods:     []string{"getID", "getHWrev", "getFWrev", "resetSTACK", "getSRQ", "resetBRIDGE"},
		Dumps:       []string{"help"},
	},
	NamespaceCurrent: {
		Namespace:   NamespaceCurrent,
		Description: "4-20mA current loop input board",
		Methods:     join(commonMethods, ledMethods, []string{"getI", "getIall"}),
		Dumps:       []string{"help"},
	},
	NamespaceDAQC: {
		Namespace:   NamespaceDAQC,
		Description: "digital I/O, LED and ADC combo board",
		Methods: join(commonMethods, ledMethods, []string{
			"getLED",
			"getADC", "getADCall",
			"getDINbit", "getDINall", "enableDINint", "disableDINint",
			"getTEMP",
			"setDOUTbit", "clrDOUTbit", "setDOUTall", "getDOUTbyte", "toggleDOUTbit",
			"setPWM", "getPWM", "setDAC", "getDAC",
			"getRANGE",
			"intENABLE", "intDISABLE", "getINTflags",
		}),
		Dumps: []string{"help"},
	},
	NamespaceDAQC2: {
		Namespace:   NamespaceDAQC2,
		Description: "digital I/O, LED and ADC combo board, second revision",
		Methods: join(commonMethods, []string{
			"RESET",
			"intEnable", "intDisable", "getINTflags",
			"setDOUTbit", "clrDOUTbit", "toggleDOUTbit", "setDOUTall", "getDOUTbyte",
			"getDINbit", "enableDINint", "disableDINint", "getDINall",
			"getADC", "getADCall",
			"setDAC", "getDAC",
			"setLED", "getLED",
			"getFREQ", "getSRQ", "setSRQ", "clrSRQ",
			"setPWM", "getPWM",
			"fgON", "fgOFF", "fgFREQ", "fgTYPE", "fgLEVEL",
			"motorENABLE", "motorDISABLE", "motorMOVE", "motorJOG", "motorSTOP",
			"motorDIR", "motorRATE", "motorOFF", "motorINTenable", "motorINTdisable",
			"startOSC", "stopOSC", "runOSC", "setOSCchannel", "setOSCsweep",
			"getOSCtraces", "setOSCtrigger", "trigOSCnow",
		}),
		Dumps: []string{"help"},
	},
	NamespaceDIGI: {
		Namespace:   NamespaceDIGI,
		Description: "digital input and event board",
		Methods: join(commonMethods, ledMethods, []string{
			"getDINbit", "getDINall", "getFREQ", "getFREQall",
			"enableDINevent", "disableDINevent", "getEVENTS", "check4EVENTS",
			"eventEnable", "eventDisable",
		}),
	},
	NamespaceRelay: {
		Namespace:   NamespaceRelay,
		Description: "relay board",
		Methods:     join(commonMethods, ledMethods, relayMethods),
	},
	NamespaceRelay2: {
		Namespace:   NamespaceRelay2,
		Description: "relay board, second revision",
		Methods:     join(commonMethods, ledMethods, relayMethods),
	},
	NamespaceThermo: {
		Namespace:   NamespaceThermo,
		Description: "thermocouple board",
		Methods: join(commonMethods, ledMethods, []string{
			"RESET",
			"intEnable", "intDisable", "getINTflags", "setINTchannel", "getSRQ", "setINT", "clrINT",
			"getTEMP", "getCOLD", "getRAW",
			"setSCALE", "getSCALE", "setTYPE", "getTYPE",
			"setLINEFREQ", "setSMOOTH", "clrSMOOTH",
		}),
	},
}

func join(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// ParseNamespace 解析命名空间（不区分大小写）
func ParseNamespace(s string) (Namespace, error) {
	ns := Namespace(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[ns]; !ok {
		return "", errors.Newf(errors.ErrInvalidNamespace, "%q", s)
	}
	return ns, nil
}

// Namespaces 返回所有命名空间（按名称排序）
func Namespaces() []Namespace {
	out := make([]Namespace, 0, len(catalog))
	for ns := range catalog {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Catalog 返回命名空间的命令表
func (ns Namespace) Catalog() *CatalogEntry {
	return catalog[ns]
}

// HasMethod 判断是否为行模式方法
func (ns Namespace) HasMethod(method string) bool {
	entry := catalog[ns]
	return entry != nil && contains(entry.Methods, method)
}

// HasDump 判断是否为块模式方法
func (ns Namespace) HasDump(method string) bool {
	entry := catalog[ns]
	return entry != nil && contains(entry.Dumps, method)
}

// Addressable 判断该类型板卡是否挂在可寻址总线上
func (ns Namespace) Addressable() bool {
	return ns.HasMethod("getADDR")
}

// PlateLabel 扫描输出中的行标签，如 ADCplates、RELAYplate2s
func (ns Namespace) PlateLabel() string {
	if ns == NamespaceRelay2 {
		return "RELAYplate2s"
	}
	return string(ns) + "plates"
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
