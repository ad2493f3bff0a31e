package agent

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/amount"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
)

// Kind 是操作类型。
type Kind string

const (
	KindSwap     Kind = "swap"
	KindSupply   Kind = "supply"
	KindWithdraw Kind = "withdraw"
	KindBorrow   Kind = "borrow"
	KindRepay    Kind = "repay"
	KindStake    Kind = "stake"
	KindUnstake  Kind = "unstake"
	KindTransfer Kind = "transfer"
)

// Kinds 列出全部操作类型。
var Kinds = []Kind{KindSwap, KindSupply, KindWithdraw, KindBorrow, KindRepay, KindStake, KindUnstake, KindTransfer}

// Known 判断操作类型是否受支持。
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Spends 表示该操作会从钱包中支出输入资产，需要做余额预检。
func (k Kind) Spends() bool {
	switch k {
	case KindWithdraw, KindBorrow:
		return false
	default:
		return true
	}
}

func (k Kind) needsToken() bool {
	switch k {
	case KindSwap, KindSupply, KindWithdraw, KindBorrow, KindRepay:
		return true
	default:
		return false
	}
}

func (k Kind) usesSlippage() bool {
	return k == KindSwap || k == KindStake || k == KindUnstake
}

func (k Kind) usesRateMode() bool {
	return k == KindBorrow || k == KindRepay
}

// ActionRequest 是用户发起的一次操作。金额为用户输入的十进制字符串。
type ActionRequest struct {
	Kind     Kind   `json:"kind"`
	Amount   string `json:"amount"`
	Token    string `json:"token,omitempty"`
	TokenOut string `json:"token_out,omitempty"`
	To       string `json:"to,omitempty"`
	Slippage string `json:"slippage,omitempty"`
	RateMode int    `json:"rate_mode,omitempty"`

	// Network 非空时把动作固定在该网络上，当前会话不在该网络则拒绝执行。
	Network network.ID `json:"network,omitempty"`
}

// Receipt 在链上确认之后生成，生成后不再修改。
type Receipt struct {
	TxHash      string     `json:"tx_hash"`
	ExplorerURL string     `json:"explorer_url"`
	Kind        Kind       `json:"kind"`
	Network     network.ID `json:"network"`
	ChainID     uint64     `json:"chain_id"`
	From        string     `json:"from"`
	BlockNumber uint64     `json:"block_number"`
	GasUsed     uint64     `json:"gas_used"`
	AmountIn    string     `json:"amount_in"`
	SymbolIn    string     `json:"symbol_in"`
	AmountOut   string     `json:"amount_out,omitempty"`
	SymbolOut   string     `json:"symbol_out,omitempty"`
	ConfirmedAt time.Time  `json:"confirmed_at"`
}

// plan 是通过校验与解析之后的操作。
type plan struct {
	req      ActionRequest
	in       adapter.Token
	out      adapter.Token
	hasOut   bool
	value    amount.Minor
	slippage float64
	rateMode adapter.RateMode
	to       common.Address
}

// Validate 对请求做纯本地校验，不访问网络。所有字段错误一次性返回。
func Validate(req ActionRequest) error {
	_, err := validate(req)
	return err
}

type validated struct {
	slippage float64
	rateMode adapter.RateMode
	to       common.Address
}

func validate(req ActionRequest) (validated, error) {
	fields := map[string]string{}
	var out validated

	if !req.Kind.Known() {
		fields["kind"] = "不支持的操作类型: " + string(req.Kind)
		return out, xerrors.Invalid(fields)
	}

	if err := amount.CheckSyntax(req.Amount); err != nil {
		fields["amount"] = fieldMessage(err, "amount")
	}

	token := strings.TrimSpace(req.Token)
	if req.Kind.needsToken() && token == "" {
		fields["token"] = "请选择资产"
	} else if token != "" {
		checkTokenRef(fields, "token", token)
	}

	if req.Kind == KindSwap {
		tokenOut := strings.TrimSpace(req.TokenOut)
		switch {
		case tokenOut == "":
			fields["token_out"] = "请选择目标资产"
		case strings.EqualFold(tokenOut, token):
			fields["token_out"] = "输入与输出资产不能相同"
		default:
			checkTokenRef(fields, "token_out", tokenOut)
		}
	}

	if req.Kind == KindTransfer {
		to := strings.TrimSpace(req.To)
		switch {
		case to == "":
			fields["to"] = "请输入收款地址"
		case !common.IsHexAddress(to):
			fields["to"] = "收款地址格式无效"
		case common.HexToAddress(to) == (common.Address{}):
			fields["to"] = "不能向零地址转账"
		default:
			out.to = common.HexToAddress(to)
		}
	}

	if req.Kind.usesSlippage() {
		slippage, err := amount.ParseSlippage(req.Slippage)
		if err != nil {
			fields["slippage"] = fieldMessage(err, "slippage")
		}
		out.slippage = slippage
	}

	if req.Kind.usesRateMode() {
		mode := adapter.RateMode(req.RateMode)
		if req.RateMode == 0 {
			mode = adapter.RateVariable
		}
		if req.RateMode < 0 || !mode.Valid() {
			fields["rate_mode"] = "利率模式必须为 1（稳定）或 2（浮动）"
		}
		out.rateMode = mode
	}

	if len(fields) > 0 {
		return out, xerrors.Invalid(fields)
	}
	return out, nil
}

func checkTokenRef(fields map[string]string, name, ref string) {
	if strings.HasPrefix(strings.ToLower(ref), "0x") && !common.IsHexAddress(ref) {
		fields[name] = "代币地址格式无效"
	}
}

func fieldMessage(err error, field string) string {
	if e, ok := xerrors.From(err); ok {
		if msg, ok := e.Fields()[field]; ok {
			return msg
		}
		return e.Message()
	}
	return err.Error()
}

func humanAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return ""
	}
	return amount.ToHumanString(amount.FromInt(v, decimals))
}
