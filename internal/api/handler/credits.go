package handler

import (
	"net/http"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/credits"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

type creditsResponse struct {
	Balance      int                        `json:"balance"`
	Transactions []*models.CreditTransaction `json:"transactions"`
	Packs        []models.TokenPack         `json:"packs"`
}

// NewCreditsHandler returns the handler for GET /api/v1/credits: the user's
// balance, transaction history, and the purchasable packs.
func NewCreditsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		user, err := st.GetUser(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}
		transactions, err := st.ListTransactions(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load transactions", nil)
			return
		}
		if transactions == nil {
			transactions = []*models.CreditTransaction{}
		}

		response.JSON(w, creditsResponse{
			Balance:      user.CreditsBalance,
			Transactions: transactions,
			Packs:        credits.TokenPacks,
		})
	}
}
