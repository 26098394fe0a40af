package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"chorewheel/auth"
	"chorewheel/chores"
	"chorewheel/config"
	"chorewheel/db"
	"chorewheel/i18n"
	"chorewheel/models"
)

var (
	// TemplateDir holds layout.html and one file per page.
	TemplateDir = "templates"

	// Now and Picker drive the wheel; tests pin them.
	Now                  = time.Now
	Picker chores.Picker = chores.RandomPicker
)

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/", IndexHandler)
	mux.HandleFunc("/register", RegisterHandler)
	mux.HandleFunc("/login", LoginHandler)
	mux.HandleFunc("/logout", LogoutHandler)
	mux.HandleFunc("/setup", SetupHandler)
	mux.HandleFunc("/wheel", WheelHandler)
	mux.HandleFunc("/chores/delete", DeleteChoreHandler)
	mux.HandleFunc("/spin", SpinHandler)
	mux.Handle("/captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	// JSON API for mobile clients
	mux.HandleFunc("/api/v1/signup", APISignupHandler)
	mux.HandleFunc("/api/v1/login", APILoginHandler)
	mux.HandleFunc("/api/v1/logout", APILogoutHandler)
	mux.HandleFunc("/api/v1/chores", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			APIListChoresHandler(w, r)
		case http.MethodPost:
			APIAddChoresHandler(w, r)
		case http.MethodDelete:
			APIDeleteChoreHandler(w, r)
		default:
			lang := i18n.DetectLanguage(r)
			sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
		}
	})
	mux.HandleFunc("/api/v1/spin", APISpinHandler)
}

func IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/wheel", http.StatusSeeOther)
}

func RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if auth.GetUserID(r) != 0 {
		redirect(w, r, "/wheel")
		return
	}
	if r.Method != http.MethodPost {
		data := map[string]any{}
		if config.AppConfig.CaptchaEnabled {
			data["CaptchaID"] = captcha.New()
		}
		renderTemplate(w, r, "register.html", data)
		return
	}

	lang := i18n.DetectLanguage(r)
	ip := getClientIP(r)
	if !signupLimiter.Allow(ip) {
		formError(w, r, i18n.T(lang, "TooManyAttempts"))
		return
	}
	if config.AppConfig.CaptchaEnabled &&
		!captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
		formError(w, r, i18n.T(lang, "InvalidCaptcha"))
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")
	if err := auth.ValidateUsername(username); err != nil {
		formError(w, r, i18n.T(lang, "InvalidUsername"))
		return
	}
	if err := auth.ValidatePassword(password); err != nil {
		formError(w, r, i18n.T(lang, "PasswordTooShort"))
		return
	}

	hashedPassword, err := db.HashPassword(password)
	if err != nil {
		internalError(w, r, "hash password", err)
		return
	}
	if _, err := db.CreateUser(r.Context(), username, hashedPassword); err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			formError(w, r, i18n.T(lang, "UsernameAlreadyExists"))
			return
		}
		internalError(w, r, "create user", err)
		return
	}
	// Limit the rate of account creation per IP
	signupLimiter.RecordFailure(ip)

	if err := auth.AddFlash(w, r, i18n.T(lang, "RegistrationSuccessful")); err != nil {
		requestLogger(r).Error("save flash", zap.Error(err))
	}
	redirect(w, r, "/login")
}

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	if auth.GetUserID(r) != 0 {
		redirect(w, r, "/wheel")
		return
	}
	if r.Method != http.MethodPost {
		renderTemplate(w, r, "login.html", nil)
		return
	}

	lang := i18n.DetectLanguage(r)
	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		formError(w, r, i18n.T(lang, "TooManyAttempts"))
		return
	}

	user, ok := checkCredentials(r, r.FormValue("username"), r.FormValue("password"))
	if !ok {
		loginLimiter.RecordFailure(ip)
		formError(w, r, i18n.T(lang, "InvalidCredentials"))
		return
	}
	loginLimiter.Reset(ip)

	if err := auth.SetSession(w, r, user.ID, user.Username); err != nil {
		internalError(w, r, "save session", err)
		return
	}
	redirect(w, r, "/wheel")
}

// checkCredentials always runs a bcrypt comparison so unknown usernames take
// as long as wrong passwords.
func checkCredentials(r *http.Request, username, password string) (models.User, bool) {
	user, err := db.GetUserByUsername(r.Context(), username)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		requestLogger(r).Error("lookup user", zap.Error(err))
	}
	targetHash := user.PasswordHash
	if err != nil {
		targetHash = db.DummyHash()
	}
	match := db.CheckPasswordHash(password, targetHash)
	return user, err == nil && match
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := auth.ClearSession(w, r); err != nil {
		requestLogger(r).Error("clear session", zap.Error(err))
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// SetupHandler adds chores from three multiline fields, one chore per line.
func SetupHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireLogin(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		renderTemplate(w, r, "setup.html", nil)
		return
	}

	lang := i18n.DetectLanguage(r)
	lists := chores.ByCategory{}
	for _, category := range models.Categories {
		texts, err := chores.ParseLines(r.FormValue(string(category)))
		if err != nil {
			formError(w, r, i18n.T(lang, "ChoreTooLong"))
			return
		}
		lists[category] = texts
	}

	if err := db.AddChoreLists(r.Context(), userID, lists); err != nil {
		internalError(w, r, "add chores", err)
		return
	}
	if err := auth.ResetCounters(w, r, Now()); err != nil {
		requestLogger(r).Error("reset counters", zap.Error(err))
	}
	redirect(w, r, "/wheel")
}

type choreGroup struct {
	Category models.Category
	Title    string
	Chores   []models.Chore
}

func WheelHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireLogin(w, r)
	if !ok {
		return
	}

	list, err := db.ListChores(r.Context(), userID)
	if err != nil {
		internalError(w, r, "list chores", err)
		return
	}

	lang := i18n.DetectLanguage(r)
	titles := map[models.Category]string{
		models.Daily:   "DailyChores",
		models.Weekly:  "WeeklyChores",
		models.Monthly: "MonthlyChores",
	}
	groups := make([]choreGroup, 0, len(models.Categories))
	for _, category := range models.Categories {
		g := choreGroup{Category: category, Title: i18n.T(lang, titles[category])}
		for _, c := range list {
			if c.Category == category {
				g.Chores = append(g.Chores, c)
			}
		}
		groups = append(groups, g)
	}

	dailyLeft, monthlyLeft := auth.LoadCounters(r).Current(Now()).Remaining()
	renderTemplate(w, r, "wheel.html", map[string]any{
		"Groups":      groups,
		"HasChores":   len(list) > 0,
		"DailyLeft":   dailyLeft,
		"MonthlyLeft": monthlyLeft,
	})
}

func DeleteChoreHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	userID := auth.GetUserID(r)
	if userID == 0 {
		http.Error(w, i18n.T(lang, "Unauthorized"), http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, i18n.T(lang, "MethodNotAllowed"), http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, i18n.T(lang, "ChoreNotFound"), http.StatusNotFound)
		return
	}
	if err := db.DeleteChore(r.Context(), id, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, i18n.T(lang, "ChoreNotFound"), http.StatusNotFound)
			return
		}
		internalError(w, r, "delete chore", err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("HX-Trigger", "choreDeleted")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/wheel", http.StatusSeeOther)
}

// SpinHandler answers the wheel page with {"chore", "type"} or {"error"}.
func SpinHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": i18n.T(lang, "MethodNotAllowed")})
		return
	}
	userID := auth.GetUserID(r)
	if userID == 0 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": i18n.T(lang, "Unauthorized")})
		return
	}

	res, err := spinForUser(r, userID, auth.LoadCounters(r))
	if err != nil && !errors.Is(err, chores.ErrNoEligibleChores) {
		requestLogger(r).Error("spin", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": i18n.T(lang, "InternalServerError")})
		return
	}
	if saveErr := auth.SaveCounters(w, r, res.Counters); saveErr != nil {
		requestLogger(r).Error("save counters", zap.Error(saveErr))
	}
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"error": i18n.T(lang, "NoEligibleChores")})
		return
	}
	writeJSON(w, http.StatusOK, res.Candidate)
}

// spinForUser loads the user's chores and spins with stored rolled over to
// the current day and month. The returned counters are the ones to persist,
// also when the error is chores.ErrNoEligibleChores.
func spinForUser(r *http.Request, userID int64, stored chores.Counters) (chores.Result, error) {
	counters := stored.Current(Now())
	lists, err := db.ListChoresByCategory(r.Context(), userID)
	if err != nil {
		return chores.Result{Counters: counters}, err
	}
	res, err := chores.Spin(lists, counters, Picker)
	if err == nil {
		requestLogger(r).Debug("spin",
			zap.Int64("user_id", userID),
			zap.String("chore", res.Chore),
			zap.String("type", string(res.Category)),
		)
	}
	return res, err
}

func requireLogin(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID := auth.GetUserID(r)
	if userID == 0 {
		redirect(w, r, "/login")
		return 0, false
	}
	return userID, true
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func redirect(w http.ResponseWriter, r *http.Request, url string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// formError shows msg next to the submitted form: in place for HTMX,
// otherwise as a flash on the reloaded page.
func formError(w http.ResponseWriter, r *http.Request, msg string) {
	if isHTMX(r) {
		w.Header().Set("HX-Retarget", "#error-message")
		w.Header().Set("HX-Reswap", "innerHTML")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(template.HTMLEscapeString(msg)))
		return
	}
	if err := auth.AddFlash(w, r, msg); err != nil {
		requestLogger(r).Error("save flash", zap.Error(err))
	}
	http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	requestLogger(r).Error(op, zap.Error(err))
	http.Error(w, i18n.T(i18n.DetectLanguage(r), "InternalServerError"), http.StatusInternalServerError)
}

func renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFiles(
		filepath.Join(TemplateDir, "layout.html"),
		filepath.Join(TemplateDir, name),
	)
	if err != nil {
		internalError(w, r, "parse template", err)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["AppName"]; !exists {
		data["AppName"] = config.AppConfig.AppName
	}
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)
	data["csrfToken"] = csrf.Token(r)
	data["Username"] = auth.GetUsername(r)
	// Popping flashes writes the cookie, so it happens before the body.
	flashes, err := auth.Flashes(w, r)
	if err != nil {
		requestLogger(r).Error("save session", zap.Error(err))
	}
	data["Flashes"] = flashes

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		requestLogger(r).Error("render template", zap.String("template", name), zap.Error(err))
	}
}
