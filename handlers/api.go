package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"chorewheel/auth"
	"chorewheel/chores"
	"chorewheel/db"
	"chorewheel/i18n"
	"chorewheel/models"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendAPIError(w http.ResponseWriter, r *http.Request, status int, key string) {
	sendJSONResponse(w, status, APIResponse{Status: "error", Message: i18n.T(i18n.DetectLanguage(r), key)})
}

func getAPISession(r *http.Request) (auth.APISession, bool) {
	token := r.Header.Get("X-API-Token")
	if token == "" {
		return auth.APISession{}, false
	}
	return auth.GetAPISession(r.Context(), token)
}

// issueAPIToken creates a token and drops the counters of stale ones.
func issueAPIToken(r *http.Request, userID int64) (string, error) {
	token, err := auth.CreateAPIToken(r.Context(), userID)
	if err != nil {
		return "", err
	}
	auth.APICounters.Sweep(Now())
	return token, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func APISignupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendAPIError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}

	ip := getClientIP(r)
	if !signupLimiter.Allow(ip) {
		sendAPIError(w, r, http.StatusTooManyRequests, "TooManyAttempts")
		return
	}

	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	if err := auth.ValidateUsername(input.Username); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidUsername")
		return
	}
	if err := auth.ValidatePassword(input.Password); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "PasswordTooShort")
		return
	}

	hashedPassword, err := db.HashPassword(input.Password)
	if err != nil {
		requestLogger(r).Error("hash password (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}
	id, err := db.CreateUser(r.Context(), input.Username, hashedPassword)
	if err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			sendAPIError(w, r, http.StatusConflict, "UsernameAlreadyExists")
			return
		}
		requestLogger(r).Error("create user (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}

	// Record signup attempt to limit rate of creation per IP
	signupLimiter.RecordFailure(ip)

	token, err := issueAPIToken(r, id)
	if err != nil {
		requestLogger(r).Error("create api token", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}

	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":    token,
			"user_id":  id,
			"username": input.Username,
		},
	})
}

func APILoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendAPIError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}

	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		sendAPIError(w, r, http.StatusTooManyRequests, "TooManyAttempts")
		return
	}

	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	user, ok := checkCredentials(r, input.Username, input.Password)
	if !ok {
		loginLimiter.RecordFailure(ip)
		sendAPIError(w, r, http.StatusUnauthorized, "InvalidCredentials")
		return
	}
	loginLimiter.Reset(ip)

	token, err := issueAPIToken(r, user.ID)
	if err != nil {
		requestLogger(r).Error("create api token", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":    token,
			"user_id":  user.ID,
			"username": user.Username,
		},
	})
}

func APILogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendAPIError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}
	session, ok := getAPISession(r)
	if !ok {
		sendAPIError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := auth.RevokeAPIToken(r.Context(), session.Token); err != nil {
		requestLogger(r).Error("revoke api token", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(i18n.DetectLanguage(r), "LoggedOut")})
}

func APIListChoresHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := getAPISession(r)
	if !ok {
		sendAPIError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	list, err := db.ListChores(r.Context(), session.UserID)
	if err != nil {
		requestLogger(r).Error("list chores (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}
	if list == nil {
		list = []models.Chore{}
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: list})
}

// APIAddChoresHandler accepts {"type": "daily", "chores": ["dishes", ...]}.
func APIAddChoresHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := getAPISession(r)
	if !ok {
		sendAPIError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var input struct {
		Type   string   `json:"type"`
		Chores []string `json:"chores"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}
	category, err := models.ParseCategory(input.Type)
	if err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidCategory")
		return
	}

	var texts []string
	for _, c := range input.Chores {
		parsed, err := chores.ParseLines(c)
		if err != nil {
			sendAPIError(w, r, http.StatusBadRequest, "ChoreTooLong")
			return
		}
		texts = append(texts, parsed...)
	}

	if err := db.AddChores(r.Context(), session.UserID, category, texts); err != nil {
		requestLogger(r).Error("add chores (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}

	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status:  "success",
		Message: i18n.T(i18n.DetectLanguage(r), "ChoresAdded"),
		Data:    map[string]int{"added": len(texts)},
	})
}

func APIDeleteChoreHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := getAPISession(r)
	if !ok {
		sendAPIError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var input struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendAPIError(w, r, http.StatusBadRequest, "InvalidRequestBody")
		return
	}

	if err := db.DeleteChore(r.Context(), input.ID, session.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sendAPIError(w, r, http.StatusNotFound, "ChoreNotFound")
			return
		}
		requestLogger(r).Error("delete chore (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(i18n.DetectLanguage(r), "ChoreDeleted")})
}

type spinData struct {
	chores.Candidate
	DailyLeft   int `json:"daily_left"`
	MonthlyLeft int `json:"monthly_left"`
}

// APISpinHandler spins with the counters of the calling token. Running out
// of eligible chores is a normal answer, reported with status "empty".
func APISpinHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendAPIError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed")
		return
	}
	session, ok := getAPISession(r)
	if !ok {
		sendAPIError(w, r, http.StatusUnauthorized, "Unauthorized")
		return
	}

	// The counters stay locked from load to save so concurrent spins on one
	// token cannot both take the last pick of a period.
	var res chores.Result
	err := auth.APICounters.Update(session.Token, func(stored chores.Counters) (chores.Counters, error) {
		var err error
		res, err = spinForUser(r, session.UserID, stored)
		return res.Counters, err
	})
	if err != nil && !errors.Is(err, chores.ErrNoEligibleChores) {
		requestLogger(r).Error("spin (API)", zap.Error(err))
		sendAPIError(w, r, http.StatusInternalServerError, "InternalServerError")
		return
	}
	if err != nil {
		sendJSONResponse(w, http.StatusOK, APIResponse{Status: "empty", Message: i18n.T(i18n.DetectLanguage(r), "NoEligibleChores")})
		return
	}
	dailyLeft, monthlyLeft := res.Counters.Remaining()
	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data:   spinData{Candidate: res.Candidate, DailyLeft: dailyLeft, MonthlyLeft: monthlyLeft},
	})
}
