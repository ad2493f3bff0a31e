// Package classifier maps arbitrary failures onto the user-facing error
// taxonomy. Adapter errors arrive as free text, so most of the work is a
// pattern table over lower-cased messages.
package classifier

import (
	"context"
	stdErrors "errors"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

// MaxSummaryRunes bounds the human summary attached to classified errors.
const MaxSummaryRunes = 160

type rule struct {
	code     xerrors.Code
	patterns []string
	re       *regexp.Regexp
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{xerrors.CodeInsufficientFunds, []string{
		"insufficient funds", "insufficient balance", "exceeds balance",
		"transfer amount exceeds", "insufficient allowance", "allowance",
		"not enough balance", "insufficient collateral", "health factor",
	}, nil},
	// 回滚信息里常带哈希和区块号，必须先于连通性规则判断。
	{xerrors.CodeAdapter, []string{"execution reverted", "reverted", "revert:"}, nil},
	{xerrors.CodeConnectivity, []string{
		"econnrefused", "connection refused", "connection reset", "no such host",
		"dial tcp", "i/o timeout", "timed out", "timeout", "fetch failed",
		"network error", "network is unreachable", "503 service", "502 bad gateway",
		"too many requests", "unexpected eof",
	}, regexp.MustCompile(`\b(status|http|code)?\s*429\b`)},
	{xerrors.CodeResolution, []string{
		"token not found", "unknown token", "unsupported token", "invalid token",
		"no price feed", "price feed not found", "unsupported network",
	}, nil},
	{xerrors.CodeValidation, []string{
		"invalid address", "invalid amount", "amount must be",
	}, nil},
	{xerrors.CodeAdapter, []string{
		"execution reverted", "revert", "slippage", "no route", "insufficient liquidity",
		"nonce too low", "replacement transaction", "gas required exceeds",
		"intrinsic gas", "transaction underpriced", "user rejected", "denied",
	}, nil},
}

// Classify maps err onto exactly one taxonomy kind. Unmatched failures
// become UNKNOWN_ERROR.
func Classify(err error) *xerrors.Error {
	return classify(err, xerrors.CodeUnknown)
}

// ClassifyAdapter is Classify for failures known to come out of a protocol
// adapter call; unmatched failures become ADAPTER_ERROR.
func ClassifyAdapter(err error) *xerrors.Error {
	return classify(err, xerrors.CodeAdapter)
}

func classify(err error, fallback xerrors.Code) *xerrors.Error {
	if err == nil {
		return nil
	}
	if coded, ok := xerrors.From(err); ok {
		if xerrors.IsKind(coded.Code()) {
			return coded
		}
		if code, ok := infraKind(coded.Code()); ok {
			return xerrors.Wrap(code, err, coded.Message(), metadataOptions(coded)...)
		}
	}

	msg := err.Error()
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, "请求超时")
	}
	if stdErrors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, "请求已取消")
	}
	if code, ok := Match(msg); ok {
		return xerrors.Wrap(code, err, Summarize(msg))
	}
	var netErr net.Error
	var urlErr *url.Error
	if stdErrors.As(err, &netErr) || stdErrors.As(err, &urlErr) {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, Summarize(msg))
	}
	return xerrors.Wrap(fallback, err, Summarize(msg))
}

// Match reports the kind whose pattern table matches msg.
func Match(msg string) (xerrors.Code, bool) {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.code, true
			}
		}
		if r.re != nil && r.re.MatchString(lower) {
			return r.code, true
		}
	}
	return "", false
}

// Summarize shortens an adapter message to its first line.
func Summarize(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	if utf8.RuneCountInString(msg) <= MaxSummaryRunes {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxSummaryRunes-1]) + "…"
}

func infraKind(code xerrors.Code) (xerrors.Code, bool) {
	switch code {
	case xerrors.CodeTimeout:
		return xerrors.CodeConnectivity, true
	case xerrors.CodeNotFound:
		return xerrors.CodeResolution, true
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure, xerrors.CodeInitializationFailure,
		xerrors.CodeConflict, xerrors.CodeAlreadyCompleted:
		return xerrors.CodeUnknown, true
	}
	return "", false
}

func metadataOptions(e *xerrors.Error) []xerrors.Option {
	md := e.Metadata()
	opts := make([]xerrors.Option, 0, len(md))
	for k, v := range md {
		opts = append(opts, xerrors.WithMetadata(k, v))
	}
	return opts
}
