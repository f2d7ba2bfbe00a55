package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/ledger"
	"dtl-ledger-indexer/internal/replication"
	"dtl-ledger-indexer/internal/transfer"
	"dtl-ledger-indexer/internal/verification"
)

// decode reads a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// limit parses the optional ?limit= query parameter.
func limit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid limit %q", ErrBadRequest, raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}

func owner(r *http.Request) (string, error) {
	o := domain.NormalizeAddress(r.Header.Get(OwnerHeader))
	if o == "" {
		return "", ErrMissingOwner
	}
	return o, nil
}

type healthResponse struct {
	Status     string                      `json:"status"`
	Validators []replication.ReplicaStatus `json:"validators"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Validators: s.ledger.ReplicaHealth()}
	for _, v := range resp.Validators {
		if !v.Healthy {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) utxosHandler(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utxos, err := s.ledger.UTXOs(r.Context(), n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utxos)
}

type mintRequest struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
}

func (s *Server) mintHandler(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = ledger.MintReasonManual
	}
	res, err := s.ledger.Mint(r.Context(), req.Address, req.Amount, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) accountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.ledger.Accounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type createAccountRequest struct {
	Address        string          `json:"address"`
	Name           string          `json:"name"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	acc, err := s.ledger.CreateAccount(r.Context(), req.Address, req.InitialBalance, req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *Server) accountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ledger.Account(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

type balanceResponse struct {
	Address  string          `json:"address"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	addr := domain.NormalizeAddress(mux.Vars(r)["address"])
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:  addr,
		Balance:  s.ledger.Balance(r.Context(), addr),
		Currency: s.ledger.Currency(),
	})
}

func (s *Server) accountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	txs, err := s.ledger.TransactionsFor(r.Context(), mux.Vars(r)["address"], n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) accountUTXOsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	utxos, err := s.ledger.UTXOsFor(r.Context(), mux.Vars(r)["address"], n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, utxos)
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := limit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	txs, err := s.ledger.Transactions(r.Context(), n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) transactionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid transaction id", ErrBadRequest))
		return
	}
	tx, err := s.ledger.Transaction(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type transferRequest struct {
	From                string          `json:"from"`
	To                  string          `json:"to"`
	Amount              decimal.Decimal `json:"amount"`
	TxHash              string          `json:"tx_hash"`
	IPFSCID             string          `json:"ipfs_cid"`
	TemplateID          string          `json:"template_id"`
	TemplateCID         string          `json:"template_cid"`
	TemplateSnapshotCID string          `json:"template_snapshot_cid"`
}

func (s *Server) transferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.Transfer(r.Context(), transfer.Request{
		Sender:              req.From,
		Receiver:            req.To,
		Amount:              req.Amount,
		ExternalTxRef:       req.TxHash,
		MetadataRef:         req.IPFSCID,
		TemplateID:          req.TemplateID,
		TemplateRef:         req.TemplateCID,
		TemplateSnapshotRef: req.TemplateSnapshotCID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	o, err := owner(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views, err := s.templates.ListByOwner(r.Context(), o)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) createTemplateHandler(w http.ResponseWriter, r *http.Request) {
	o, err := owner(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var fields domain.TemplateFields
	if err := decode(r, &fields); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.templates.Create(r.Context(), o, fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getTemplateHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.templates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) updateTemplateHandler(w http.ResponseWriter, r *http.Request) {
	o, err := owner(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var update domain.TemplateUpdate
	if err := decode(r, &update); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.templates.Update(r.Context(), mux.Vars(r)["id"], o, update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteTemplateHandler(w http.ResponseWriter, r *http.Request) {
	o, err := owner(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.templates.Delete(r.Context(), mux.Vars(r)["id"], o); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nodesResponse struct {
	Validators []replication.ReplicaStatus `json:"validators"`
	Digests    map[string]string           `json:"digests"`
	InSync     bool                        `json:"in_sync"`
}

func (s *Server) nodesHandler(w http.ResponseWriter, r *http.Request) {
	report, err := verification.VerifyReplicas(r.Context(), s.ledger)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodesResponse{
		Validators: s.ledger.ReplicaHealth(),
		Digests:    report.Digests,
		InSync:     len(report.Replicas) == 0,
	})
}

type nodeLedgerResponse struct {
	Validator   string                    `json:"validator"`
	Stats       domain.Stats              `json:"stats"`
	Consistent  bool                      `json:"consistent"`
	Divergences []verification.Divergence `json:"divergences,omitempty"`
}

func (s *Server) nodeLedgerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	known := false
	for _, v := range s.ledger.Validators() {
		if v == name {
			known = true
		}
	}
	if !known {
		s.writeError(w, fmt.Errorf("validator %s %w", name, ledger.ErrNotFound))
		return
	}

	doc, err := s.ledger.ValidatorView(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	report := verification.VerifyDocument(name, doc)
	writeJSON(w, http.StatusOK, nodeLedgerResponse{
		Validator:   name,
		Stats:       doc.ComputeStats(),
		Consistent:  report.OK(),
		Divergences: report.Divergences,
	})
}
