package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	qrcode "github.com/skip2/go-qrcode"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/vault"
)

type walletStatus struct {
	Connected   bool       `json:"connected"`
	Address     string     `json:"address,omitempty"`
	GateEnabled bool       `json:"gate_enabled"`
	Network     network.ID `json:"network"`
	ExplorerURL string     `json:"explorer_url,omitempty"`
}

type setupRequest struct {
	PrivateKey string `json:"private_key,omitempty"`
	Password   string `json:"password,omitempty"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type signRequest struct {
	Message string `json:"message"`
}

func (s *Server) walletReady(w http.ResponseWriter) bool {
	if s.deps.Vault == nil || s.deps.Selector == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "钱包未初始化"))
		return false
	}
	return true
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	ctx := r.Context()
	addr, connected, err := s.deps.Vault.Address(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	gated, err := s.deps.Vault.GateEnabled(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.deps.Selector.Current(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	status := walletStatus{Connected: connected, GateEnabled: gated, Network: profile.ID}
	if connected {
		status.Address = addr.Hex()
		status.ExplorerURL = profile.AddressURL(addr.Hex())
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWalletGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	var req setupRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	addr, err := s.deps.Vault.Generate(r.Context(), vault.WithPassword(req.Password))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": addr.Hex()})
}

func (s *Server) handleWalletImport(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	var req setupRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	addr, err := s.deps.Vault.Import(r.Context(), req.PrivateKey, vault.WithPassword(req.Password))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": addr.Hex()})
}

func (s *Server) handleWalletPassword(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	if err := s.deps.Vault.SetPasswordGate(r.Context(), req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWalletReveal(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	ctx := r.Context()
	reveal, err := s.deps.Vault.Reveal(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if reveal.State() == vault.Locked {
		ok, err := reveal.Unlock(ctx, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeValidation, "Incorrect password", xerrors.WithField("password", "Incorrect password")))
			return
		}
	}
	key, err := reveal.PrivateKey(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"private_key": key})
}

func (s *Server) handleWalletClear(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	if err := s.deps.Vault.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWalletQR(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	addr, connected, err := s.deps.Vault.Address(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !connected {
		writeError(w, xerrors.New(xerrors.CodeValidation, "未连接钱包", xerrors.WithField("wallet", "请先生成或导入钱包")))
		return
	}
	size := 256
	if raw := r.URL.Query().Get("size"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 64 && parsed <= 1024 {
			size = parsed
		}
	}
	qr, err := qrcode.New(addr.Hex(), qrcode.Medium)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeUnknown, err, "生成二维码失败"))
		return
	}
	png, err := qr.PNG(size)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeUnknown, err, "生成二维码失败"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleWalletSign(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "会话未初始化"))
		return
	}
	var req signRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	if req.Message == "" {
		writeError(w, xerrors.New(xerrors.CodeValidation, "Message is required", xerrors.WithField("message", "Message is required")))
		return
	}
	sess, err := s.deps.Sessions.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sig, err := sess.SignMessage([]byte(req.Message))
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeUnknown, err, "签名失败"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":   sess.Address().Hex(),
		"message":   req.Message,
		"signature": hexutil.Encode(sig),
	})
}

func (s *Server) handleNetworkGet(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	profile, err := s.deps.Selector.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":  profile,
		"profiles": s.deps.Selector.Catalog().Profiles(),
	})
}

func (s *Server) handleNetworkPut(w http.ResponseWriter, r *http.Request) {
	if !s.walletReady(w) {
		return
	}
	var req struct {
		Network string `json:"network"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "请求体解析失败")
		return
	}
	id, err := network.ParseID(req.Network)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.deps.Selector.Select(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
