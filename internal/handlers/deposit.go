package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/makemny/apiserver/internal/services"
	"github.com/makemny/apiserver/types"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
)

const (
	maxMultipartMemory = 1 << 20
	formFieldProof     = "proof"
	sniffLen           = 512
)

// DepositHandler provides HTTP handlers for the deposit ledger.
type DepositHandler struct {
	depositService *services.DepositService
	userService    *services.UserService
}

// NewDepositHandler constructs a handler with the provided services.
func NewDepositHandler(depositService *services.DepositService, userService *services.UserService) *DepositHandler {
	return &DepositHandler{
		depositService: depositService,
		userService:    userService,
	}
}

// DepositRouter registers deposit routes on the given router. Approve,
// reject and proof downloads require an admin session.
func DepositRouter(r chi.Router, handler *DepositHandler, authMiddleware func(http.Handler) http.Handler) {
	admin := r.With(authMiddleware, handler.requireAdmin)

	r.Post("/deposit", handler.SubmitDeposit)
	r.Get("/deposits", handler.ListDeposits)
	r.Get("/pending-deposits", handler.ListPendingDeposits)
	r.Get("/approved-deposits", handler.ListApprovedDeposits)
	r.Get("/deposit-stats", handler.DepositStats)
	admin.Post("/approve-deposit", handler.ApproveDeposit)
	admin.Post("/reject-deposit", handler.RejectDeposit)

	r.Route("/deposits/{depositID}", func(r chi.Router) {
		r.Get("/", handler.GetDeposit)
		if handler.depositService.ProofsEnabled() {
			r.Post("/proof", handler.UploadProof)
			r.With(authMiddleware, handler.requireAdmin).Get("/proof", handler.DownloadProof)
		}
	})
}

// SubmitDeposit records a pending deposit request.
func (h *DepositHandler) SubmitDeposit(w http.ResponseWriter, r *http.Request) {
	var req SubmitDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	deposit, err := h.depositService.Submit(r.Context(), services.SubmitInput{
		AccountName:   req.AccountName,
		AccountNumber: req.AccountNumber,
		Amount:        req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, err, "failed to submit deposit")
		return
	}

	writeJSON(w, http.StatusCreated, SubmitDepositResponse{
		Message:   "Deposit request submitted. Await admin approval.",
		DepositID: deposit.ID,
	})
}

// ListDeposits returns deposits filtered by the optional status query
// parameter, newest first.
func (h *DepositHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.depositService.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err, "failed to list deposits")
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (h *DepositHandler) ListPendingDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.depositService.List(r.Context(), string(types.DepositPending))
	if err != nil {
		writeServiceError(w, r, err, "failed to list deposits")
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

// ListApprovedDeposits returns the approved deposits of one account holder.
func (h *DepositHandler) ListApprovedDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := h.depositService.ListApproved(r.Context(), r.URL.Query().Get("accountName"))
	if err != nil {
		writeServiceError(w, r, err, "failed to list deposits")
		return
	}
	writeJSON(w, http.StatusOK, deposits)
}

func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	deposit, err := h.depositService.Get(r.Context(), chi.URLParam(r, "depositID"))
	if err != nil {
		writeServiceError(w, r, err, "failed to load deposit")
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}

func (h *DepositHandler) DepositStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.depositService.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DepositHandler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.depositService.Approve, "Deposit approved.")
}

func (h *DepositHandler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.depositService.Reject, "Deposit rejected.")
}

func (h *DepositHandler) resolve(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, id string) (types.Deposit, error),
	message string,
) {
	var req ResolveDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.DepositID) == "" {
		writeError(w, http.StatusBadRequest, "missing depositId")
		return
	}

	deposit, err := apply(r.Context(), req.DepositID)
	if err != nil {
		writeServiceError(w, r, err, "failed to update deposit")
		return
	}

	hlog.FromRequest(r).Info().
		Str("deposit_id", deposit.ID).
		Str("status", string(deposit.Status)).
		Msg("deposit resolved by admin")
	writeJSON(w, http.StatusOK, ResolveDepositResponse{Message: message, Deposit: deposit})
}

// UploadProof stores a payment proof for a pending deposit.
func (h *DepositHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxProofSize+maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(formFieldProof)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing proof file")
		return
	}
	defer file.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "unreadable proof file")
		return
	}
	head = head[:n]
	contentType := http.DetectContentType(head)

	deposit, err := h.depositService.AttachProof(
		r.Context(),
		chi.URLParam(r, "depositID"),
		io.MultiReader(bytes.NewReader(head), file),
		header.Size,
		contentType,
	)
	if err != nil {
		writeServiceError(w, r, err, "failed to store proof")
		return
	}

	writeJSON(w, http.StatusCreated, deposit)
}

// DownloadProof streams the payment proof of a deposit.
func (h *DepositHandler) DownloadProof(w http.ResponseWriter, r *http.Request) {
	proof, err := h.depositService.OpenProof(r.Context(), chi.URLParam(r, "depositID"))
	if err != nil {
		writeServiceError(w, r, err, "failed to load proof")
		return
	}
	defer proof.Body.Close()

	w.Header().Set("Content-Type", proof.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, proof.Body); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("key", proof.Key).Msg("stream proof failed")
	}
}

// requireAdmin reloads the session owner on every call so a revoked role
// takes effect immediately.
func (h *DepositHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.userService.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeServiceError(w, r, err, "failed to load user")
			return
		}

		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type SubmitDepositRequest struct {
	AccountName   string          `json:"accountName"`
	AccountNumber string          `json:"accountNumber"`
	Amount        decimal.Decimal `json:"amount"`
}

type SubmitDepositResponse struct {
	Message   string `json:"message"`
	DepositID string `json:"depositId"`
}

type ResolveDepositRequest struct {
	DepositID string `json:"depositId"`
}

type ResolveDepositResponse struct {
	Message string        `json:"message"`
	Deposit types.Deposit `json:"deposit"`
}
