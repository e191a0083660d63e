package relay

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const (
	minPasswordLen = 6
	tokenTTL       = 30 * 24 * time.Hour
)

type registerPayload struct {
	Username string  `json:"username"`
	Email    *string `json:"email"`
	Password string  `json:"password"`
}

func (e *Engine) handleRegister(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p registerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		sess.Push(errorEvent(CodeValidation, "malformed payload"))
		return
	}
	if !usernameRe.MatchString(p.Username) {
		sess.Push(errorEvent(CodeValidation, "username must be 3-20 letters, digits or underscores"))
		return
	}
	if len(p.Password) < minPasswordLen {
		sess.Push(errorEvent(CodeValidation, "password must be at least 6 characters"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		sess.Push(errorEvent(CodeInternal, "registration failed"))
		return
	}

	now := e.nowMs()
	account, err := e.store.CreateAccount(ctx, p.Username, p.Email, string(hash), now)
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	token, err := e.store.CreateAuthToken(ctx, account.ID, now, now+tokenTTL.Milliseconds())
	if err != nil {
		sess.Push(storeError(err))
		return
	}

	sess.setAccount(account.ID, token.Token)
	e.logger.Info("account registered", "username", account.Username)

	sess.Push(RegisterSuccessEvent{
		Type:  "register_success",
		Token: token.Token,
		User:  UserInfo{ID: account.ID, Username: account.Username},
	})
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (e *Engine) handleLogin(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Username == "" || p.Password == "" {
		sess.Push(errorEvent(CodeValidation, "username and password are required"))
		return
	}

	account, err := e.store.GetAccountByUsername(ctx, p.Username)
	if err != nil {
		sess.Push(errorEvent(CodeInvalidCredentials, "invalid username or password"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(p.Password)) != nil {
		sess.Push(errorEvent(CodeInvalidCredentials, "invalid username or password"))
		return
	}

	now := e.nowMs()
	token, err := e.store.CreateAuthToken(ctx, account.ID, now, now+tokenTTL.Milliseconds())
	if err != nil {
		sess.Push(storeError(err))
		return
	}
	if err := e.store.UpdateLastLogin(ctx, account.ID, now); err != nil {
		e.logger.Warn("last login update failed", "account", account.ID, "error", err)
	}

	sess.setAccount(account.ID, token.Token)
	e.logger.Info("account logged in", "username", account.Username)

	sess.Push(LoginSuccessEvent{
		Type:  "login_success",
		Token: token.Token,
		User:  UserInfo{ID: account.ID, Username: account.Username},
	})
}

type authPayload struct {
	Token string `json:"token"`
}

func (e *Engine) handleAuth(ctx context.Context, sess *Session, raw json.RawMessage) {
	var p authPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Token == "" {
		sess.Push(AuthFailedEvent{Type: "auth_failed", Message: "token is required"})
		return
	}
	e.authenticate(ctx, sess, p.Token)
}

// PreAuthenticate runs the token workflow for credentials presented at
// connection upgrade. Empty token is a no-op; the client may still
// authenticate in-band.
func (e *Engine) PreAuthenticate(ctx context.Context, sess *Session, token string) {
	if token == "" {
		return
	}
	e.authenticate(ctx, sess, token)
}

func (e *Engine) authenticate(ctx context.Context, sess *Session, token string) {
	row, err := e.store.ValidateToken(ctx, token, e.nowMs())
	if err != nil {
		sess.Push(AuthFailedEvent{Type: "auth_failed", Message: "token invalid or expired"})
		return
	}
	account, err := e.store.GetAccountByID(ctx, row.AccountID)
	if err != nil {
		sess.Push(AuthFailedEvent{Type: "auth_failed", Message: "account not found"})
		return
	}

	sess.setAccount(account.ID, token)

	sess.Push(AuthSuccessEvent{
		Type: "auth_success",
		User: UserInfo{ID: account.ID, Username: account.Username},
	})

	// Identities still flagged online from a previous connection follow the
	// account onto this one.
	e.restoreAccount(ctx, sess, account.ID)
}

func (e *Engine) handleLogout(ctx context.Context, sess *Session, _ json.RawMessage) {
	accountID := sess.AccountID()
	token := sess.clearAccount()

	e.reg.UnbindAll(sess)

	if accountID != "" {
		if err := e.store.SetAccountCharactersOffline(ctx, accountID, e.nowMs()); err != nil {
			e.logger.Warn("logout offline sweep failed", "account", accountID, "error", err)
		}
	}
	if token != "" {
		if err := e.store.DeleteToken(ctx, token); err != nil {
			e.logger.Warn("logout token delete failed", "error", err)
		}
	}

	sess.Push(LogoutSuccessEvent{Type: "logout_success"})
}
