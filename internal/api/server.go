// Package api exposes the consensus engine's façade operations over HTTP:
// exactly the read/write surface spec.md §6 names, nothing more.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/consensus"
	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/txpool"
)

var log = logrus.WithFields(logrus.Fields{"process": "api"})

// Engine is the subset of consensus.Engine the façade depends on.
type Engine interface {
	GetHeight() uint64
	GetBlockByHeight(h uint64) (*chain.Block, bool)
	GetBlock(hash cryptox.Hash) (*chain.Block, bool)
	SubmitTransaction(tx *txpool.Transaction) (cryptox.Hash, error)
	GetMempoolStats() txpool.Stats
	GetConsensusState() (uint64, uint64, uint64, consensus.Phase)
	GetMetrics() consensus.Metrics
}

// Server is the gorilla/mux-routed HTTP façade over one node's Engine.
type Server struct {
	engine     Engine
	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds a façade bound to engine.
func NewServer(engine Engine) *Server {
	s := &Server{engine: engine, router: mux.NewRouter()}
	s.routes()
	return s
}

// Start serves the façade on addr, blocking until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	log.WithField("addr", addr).Info("api server starting")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/height", s.handleGetHeight).Methods(http.MethodGet)
	s.router.HandleFunc("/blocks/height/{height:[0-9]+}", s.handleGetBlockByHeight).Methods(http.MethodGet)
	s.router.HandleFunc("/blocks/hash/{hash}", s.handleGetBlock).Methods(http.MethodGet)
	s.router.HandleFunc("/transactions", s.handleSubmitTransaction).Methods(http.MethodPost)
	s.router.HandleFunc("/mempool/stats", s.handleGetMempoolStats).Methods(http.MethodGet)
	s.router.HandleFunc("/consensus/state", s.handleGetConsensusState).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleGetMetrics).Methods(http.MethodGet)
}

func (s *Server) respond(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.WithError(err).Warn("failed to encode response")
		}
	}
}

func (s *Server) error(w http.ResponseWriter, err error, status int) {
	s.respond(w, map[string]string{"error": err.Error()}, status)
}

type blockView struct {
	Hash         string   `json:"hash"`
	Height       uint64   `json:"height"`
	PrevHash     string   `json:"prev_hash"`
	TxRoot       string   `json:"tx_root"`
	StateRoot    string   `json:"state_root"`
	TimestampMs  int64    `json:"timestamp_ms"`
	Proposer     string   `json:"proposer"`
	GasLimit     uint64   `json:"gas_limit"`
	GasUsed      uint64   `json:"gas_used"`
	Transactions []string `json:"transactions"`
}

func toBlockView(b *chain.Block) blockView {
	txs := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.Hash().String()
	}
	return blockView{
		Hash:         b.Hash().String(),
		Height:       b.Header.Height,
		PrevHash:     b.Header.PrevHash.String(),
		TxRoot:       b.Header.TxRoot.String(),
		StateRoot:    b.Header.StateRoot.String(),
		TimestampMs:  b.Header.TimestampMs,
		Proposer:     b.Header.Proposer.String(),
		GasLimit:     b.Header.GasLimit,
		GasUsed:      b.Header.GasUsed,
		Transactions: txs,
	}
}

func (s *Server) handleGetHeight(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]uint64{"height": s.engine.GetHeight()}, http.StatusOK)
}

func (s *Server) handleGetBlockByHeight(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	block, ok := s.engine.GetBlockByHeight(height)
	if !ok {
		s.error(w, errNotFound("block"), http.StatusNotFound)
		return
	}
	s.respond(w, toBlockView(block), http.StatusOK)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(mux.Vars(r)["hash"])
	if err != nil || len(raw) != cryptox.HashSize {
		s.error(w, errInvalidHash, http.StatusBadRequest)
		return
	}
	var hash cryptox.Hash
	copy(hash[:], raw)

	block, ok := s.engine.GetBlock(hash)
	if !ok {
		s.error(w, errNotFound("block"), http.StatusNotFound)
		return
	}
	s.respond(w, toBlockView(block), http.StatusOK)
}

type submitTxRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

func decodeFixed(s string, out []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return errInvalidHash
	}
	copy(out, raw)
	return nil
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	var tx txpool.Transaction
	if err := decodeFixed(req.From, tx.From[:]); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	if err := decodeFixed(req.To, tx.To[:]); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	if err := decodeFixed(req.Signature, tx.Signature[:]); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	data, err := hex.DecodeString(req.Data)
	if err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	tx.Amount, tx.Fee, tx.Nonce, tx.Data = req.Amount, req.Fee, req.Nonce, data

	hash, err := s.engine.SubmitTransaction(&tx)
	if err != nil {
		s.error(w, err, http.StatusUnprocessableEntity)
		return
	}
	s.respond(w, map[string]string{"hash": hash.String()}, http.StatusAccepted)
}

func (s *Server) handleGetMempoolStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.GetMempoolStats(), http.StatusOK)
}

func (s *Server) handleGetConsensusState(w http.ResponseWriter, r *http.Request) {
	height, view, round, phase := s.engine.GetConsensusState()
	s.respond(w, map[string]interface{}{
		"height": height,
		"view":   view,
		"round":  round,
		"phase":  phase.String(),
	}, http.StatusOK)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.engine.GetMetrics()
	s.respond(w, map[string]interface{}{
		"blocks_processed":      m.BlocksProcessed,
		"proposed":              m.Proposed,
		"view_changes":          m.ViewChanges,
		"fast_path_commits":     m.FastPathCommits,
		"rounds_attempted":      m.RoundsAttempted,
		"rounds_succeeded":      m.RoundsSucceeded,
		"average_finality_time": m.AverageFinalityTime().String(),
		"throughput_tps":        m.ThroughputTPS(),
		"pipeline_efficiency":   m.PipelineEfficiency(),
		"round_success_rate":    m.RoundSuccessRate(),
	}, http.StatusOK)
}
