package adminapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/connexa/waconnect/internal/domain"
	"github.com/connexa/waconnect/internal/whatsapp"
	"github.com/connexa/waconnect/pkg/common"
)

// listSessions returns the operator's accounts. Supers see every tenant.
// Optional filters: status, health, since (any common timestamp format).
func (s *Server) listSessions(c echo.Context) error {
	page, pageSize := parsePagination(c)
	opr := currentOpr(c)

	base := s.app.DB().Model(&domain.WaAccount{})
	if !opr.isSuper() {
		base = base.Where("user_id = ?", opr.ID)
	}
	if status := c.QueryParam("status"); status != "" {
		base = base.Where("status = ?", status)
	}
	if since := c.QueryParam("since"); since != "" {
		t, err := dateparse.ParseLocal(since)
		if err != nil {
			return fail(c, http.StatusBadRequest, "INVALID_SINCE", "Unable to parse since parameter", err.Error())
		}
		base = base.Where("updated_at >= ?", t)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}

	var accounts []domain.WaAccount
	if err := base.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&accounts).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}

	items := make([]map[string]interface{}, 0, len(accounts))
	for i := range accounts {
		items = append(items, s.sessionView(&accounts[i]))
	}
	return paged(c, items, total, page, pageSize)
}

func (s *Server) sessionView(acct *domain.WaAccount) map[string]interface{} {
	return map[string]interface{}{
		"id":             acct.ID,
		"tenant_id":      acct.TenantId,
		"name":           acct.Name,
		"phone":          acct.Phone,
		"status":         acct.Status,
		"health":         acct.HealthLabel(),
		"health_score":   acct.HealthScore,
		"msg_sent_today": acct.MsgSentToday,
		"msg_recv_today": acct.MsgRecvToday,
		"daily_limit":    acct.DailyLimit,
		"active":         acct.Active,
		"live":           s.sessions.IsConnected(acct.ID),
		"updated_at":     acct.UpdatedAt,
	}
}

// loadOwnedAccount fetches the account and enforces ownership.
func (s *Server) loadOwnedAccount(c echo.Context) (*domain.WaAccount, error) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return nil, fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid session ID", nil)
	}
	var acct domain.WaAccount
	if err := s.app.DB().Where("id = ?", id).First(&acct).Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fail(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	} else if err != nil {
		return nil, fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query session", err.Error())
	}
	opr := currentOpr(c)
	if !opr.isSuper() && acct.UserId != opr.ID {
		return nil, fail(c, http.StatusForbidden, "NOT_OWNER", "Session belongs to another operator", nil)
	}
	return &acct, nil
}

type sessionPayload struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	TenantID   int64  `json:"tenant_id,string"`
	DailyLimit int    `json:"daily_limit"`
}

func (s *Server) createSession(c echo.Context) error {
	var payload sessionPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse session parameters", nil)
	}
	if strings.TrimSpace(payload.Name) == "" {
		return fail(c, http.StatusBadRequest, "MISSING_NAME", "Session name is required", nil)
	}
	opr := currentOpr(c)
	if payload.DailyLimit <= 0 {
		payload.DailyLimit = int(s.app.GetSettingsInt64Value("whatsapp", "DefaultDailyLimit"))
		if payload.DailyLimit <= 0 {
			payload.DailyLimit = 1000
		}
	}

	acct := domain.WaAccount{
		ID:          common.UUIDint64(),
		TenantId:    payload.TenantID,
		UserId:      opr.ID,
		Name:        strings.TrimSpace(payload.Name),
		Phone:       payload.Phone,
		Status:      domain.StatusDisconnected,
		HealthScore: 100,
		DailyLimit:  payload.DailyLimit,
		Active:      true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.app.DB().Create(&acct).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to create session", err.Error())
	}
	s.writeOprLog(opr.Username, c.RealIP(), "session_create", "created session "+acct.Name)
	return ok(c, s.sessionView(&acct))
}

func (s *Server) getSession(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	return ok(c, s.sessionView(acct))
}

func (s *Server) connectSession(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	_, err = s.sessions.Connect(c.Request().Context(), acct.ID)
	switch {
	case errors.Is(err, whatsapp.ErrAlreadyConnecting):
		return fail(c, http.StatusConflict, "ALREADY_CONNECTING", "Session startup already in progress", nil)
	case errors.Is(err, whatsapp.ErrAccountInactive):
		return fail(c, http.StatusConflict, "SESSION_INACTIVE", "Session is administratively disabled", nil)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to start session", err.Error())
	}
	s.writeOprLog(currentOpr(c).Username, c.RealIP(), "session_connect", "connect requested for "+acct.Name)
	return ok(c, map[string]interface{}{"started": true})
}

func (s *Server) disconnectSession(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	if err := s.sessions.Disconnect(c.Request().Context(), acct.ID); err != nil {
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Failed to stop session", err.Error())
	}
	s.writeOprLog(currentOpr(c).Username, c.RealIP(), "session_disconnect", "disconnect requested for "+acct.Name)
	return ok(c, map[string]interface{}{"stopped": true})
}

func (s *Server) getSessionHealth(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	info, err := s.sessions.GetHealth(c.Request().Context(), acct.ID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "HEALTH_FAILED", "Failed to read session health", err.Error())
	}
	return ok(c, info)
}

func (s *Server) getSessionPairing(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	code, expireAt, err := s.sessions.GetPairingCode(c.Request().Context(), acct.ID)
	switch {
	case errors.Is(err, whatsapp.ErrNoPairing):
		return fail(c, http.StatusNotFound, "NO_PAIRING", "No pairing code outstanding", nil)
	case errors.Is(err, whatsapp.ErrPairingExpired):
		return fail(c, http.StatusGone, "PAIRING_EXPIRED", "Pairing code has expired, reconnect to get a new one", nil)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "PAIRING_FAILED", "Failed to read pairing code", err.Error())
	}
	return ok(c, map[string]interface{}{
		"code":       code,
		"expires_at": expireAt,
	})
}

func (s *Server) sendMessage(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	var payload struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", nil)
	}
	if payload.To == "" || payload.Text == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and text are required", nil)
	}
	if acct.MsgSentToday >= acct.DailyLimit {
		return fail(c, http.StatusTooManyRequests, "DAILY_LIMIT", "Daily message limit reached", nil)
	}

	err = s.sessions.SendText(c.Request().Context(), acct.ID, payload.To, payload.Text)
	switch {
	case errors.Is(err, whatsapp.ErrHandleNotFound):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Session is not connected", nil)
	case err != nil:
		return fail(c, http.StatusInternalServerError, "SEND_FAILED", "Failed to send message", err.Error())
	}
	return ok(c, map[string]interface{}{"sent": true})
}

func (s *Server) removeSession(c echo.Context) error {
	acct, err := s.loadOwnedAccount(c)
	if err != nil {
		return err
	}
	// Tear down any live connection before the row disappears.
	_ = s.sessions.Disconnect(c.Request().Context(), acct.ID)
	if err := s.app.DB().Delete(&domain.WaAccount{}, acct.ID).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to remove session", err.Error())
	}
	s.writeOprLog(currentOpr(c).Username, c.RealIP(), "session_remove", "removed session "+acct.Name)
	return ok(c, map[string]interface{}{"removed": true})
}

// runSweep triggers an immediate health sweep; a sweep already in flight
// makes this a no-op.
func (s *Server) runSweep(c echo.Context) error {
	if !currentOpr(c).isSuper() {
		return fail(c, http.StatusForbidden, "NOT_ALLOWED", "Only super operators may trigger a sweep", nil)
	}
	go func() {
		if err := s.sessions.Sweep(context.Background()); err != nil {
			zap.L().Error("adminapi: manual sweep failed", zap.Error(err))
		}
	}()
	return ok(c, map[string]interface{}{"started": true})
}
