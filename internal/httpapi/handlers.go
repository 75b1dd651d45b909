package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spellduel/broker/internal/account"
	"github.com/spellduel/broker/internal/ranking"
)

type accountView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Icon     string `json:"icon"`
	Mock     int    `json:"mockTrophies"`
	Formal   int    `json:"formalTrophies"`
}

func viewOf(d Deps, a account.Account) accountView {
	return accountView{
		ID:       a.ID,
		Username: a.Username,
		Nickname: a.Nickname,
		Icon:     a.Icon,
		Mock:     d.Rankings.Lookup(ranking.CategoryMock, a.ID),
		Formal:   d.Rankings.Lookup(ranking.CategoryFormal, a.ID),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps store errors onto the HTTP status taxonomy: validation 400,
// auth 401, conflict 409, not-found 404, anything else 500.
func writeErr(d Deps, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, account.ErrBadCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, account.ErrUsernameTaken),
		errors.Is(err, account.ErrNicknameTaken),
		errors.Is(err, account.ErrNicknameCooldown):
		status = http.StatusConflict
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, ranking.ErrUnknownCategory):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		d.Log.Errorw("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return account.ErrInvalidInput
	}
	return nil
}

// resolve turns the request's session token into an account id, sliding the
// token's expiry in the process.
func resolve(d Deps, token string) (string, error) {
	id, ok := d.Accounts.Resolve(token)
	if !ok {
		return "", account.ErrBadCredentials
	}
	return id, nil
}

func RegisterAccount(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Nickname string `json:"nickname"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		a, token, err := d.Accounts.Register(req.Username, req.Password, req.Nickname)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		d.Saver.ScheduleSave()
		writeJSON(w, http.StatusCreated, map[string]any{
			"sessionToken": token,
			"account":      viewOf(d, a),
		})
	}
}

func Login(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		a, token, err := d.Accounts.Login(req.Username, req.Password)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		d.Saver.ScheduleSave()
		writeJSON(w, http.StatusOK, map[string]any{
			"sessionToken": token,
			"account":      viewOf(d, a),
		})
	}
}

func VerifySession(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionToken string `json:"sessionToken"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		id, ok := d.Accounts.Resolve(req.SessionToken)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"valid": false})
			return
		}
		a, err := d.Accounts.Get(id)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		d.Saver.ScheduleSave()
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "account": viewOf(d, a)})
	}
}

func ChangeNickname(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionToken string `json:"sessionToken"`
			Nickname     string `json:"nickname"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		id, err := resolve(d, req.SessionToken)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		if err := d.Accounts.ChangeNickname(id, req.Nickname); err != nil {
			writeErr(d, w, err)
			return
		}
		d.Saver.ScheduleSave()
		a, _ := d.Accounts.Get(id)
		writeJSON(w, http.StatusOK, map[string]any{"account": viewOf(d, a)})
	}
}

func ChangeIcon(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionToken string `json:"sessionToken"`
			Icon         string `json:"icon"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		id, err := resolve(d, req.SessionToken)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		if err := d.Accounts.ChangeIcon(id, req.Icon); err != nil {
			writeErr(d, w, err)
			return
		}
		d.Saver.ScheduleSave()
		a, _ := d.Accounts.Get(id)
		writeJSON(w, http.StatusOK, map[string]any{"account": viewOf(d, a)})
	}
}

// UpdateTrophies adjusts the mock ledger only, with the delta clamped to the
// allowed band. Formal trophies move exclusively through outcome consensus.
func UpdateTrophies(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionToken string `json:"sessionToken"`
			Delta        int    `json:"delta"`
		}
		if err := decode(r, &req); err != nil {
			writeErr(d, w, err)
			return
		}
		id, err := resolve(d, req.SessionToken)
		if err != nil {
			writeErr(d, w, err)
			return
		}
		delta := req.Delta
		if delta > ranking.MockDeltaLimit {
			delta = ranking.MockDeltaLimit
		}
		if delta < -ranking.MockDeltaLimit {
			delta = -ranking.MockDeltaLimit
		}
		score := d.Rankings.Adjust(ranking.CategoryMock, id, delta)
		d.Saver.ScheduleSave()
		writeJSON(w, http.StatusOK, map[string]any{"score": score})
	}
}

func Rankings(d Deps) http.HandlerFunc {
	type row struct {
		AccountID string `json:"accountId"`
		Nickname  string `json:"nickname"`
		Score     int    `json:"score"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		cat, err := ranking.ParseCategory(chi.URLParam(r, "category"))
		if err != nil {
			writeErr(d, w, err)
			return
		}
		entries := d.Rankings.List(cat)
		rows := make([]row, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, row{
				AccountID: e.AccountID,
				Nickname:  d.Accounts.NicknameOf(e.AccountID),
				Score:     e.Score,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"category": cat, "rankings": rows})
	}
}

func Profile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := d.Accounts.Get(chi.URLParam(r, "userID"))
		if err != nil {
			writeErr(d, w, err)
			return
		}
		// Public profile: no username, that's a login identifier.
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             a.ID,
			"nickname":       a.Nickname,
			"icon":           a.Icon,
			"mockTrophies":   d.Rankings.Lookup(ranking.CategoryMock, a.ID),
			"formalTrophies": d.Rankings.Lookup(ranking.CategoryFormal, a.ID),
			"createdAt":      a.CreatedAt,
		})
	}
}
