package adminapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/connexa/waconnect/internal/domain"
	"github.com/connexa/waconnect/pkg/common"
)

const tokenLifetime = 24 * time.Hour

func (s *Server) login(c echo.Context) error {
	var payload struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", nil)
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || payload.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var opr domain.SysOpr
	err := s.app.DB().Where("username = ?", payload.Username).First(&opr).Error
	if err != nil {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}
	if opr.Status != common.ENABLED {
		return fail(c, http.StatusForbidden, "ACCOUNT_DISABLED", "Operator account is disabled", nil)
	}
	if !verifyPassword(opr.Password, payload.Password) {
		zap.L().Warn("adminapi: login rejected",
			zap.String("username", payload.Username), zap.String("ip", c.RealIP()))
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}

	claims := jwt.MapClaims{
		"uid": strconv.FormatInt(opr.ID, 10),
		"usr": opr.Username,
		"lvl": opr.Level,
		"exp": time.Now().Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.app.Config().Web.JwtSecret))
	if err != nil {
		return fail(c, http.StatusInternalServerError, "TOKEN_ERROR", "Failed to issue token", nil)
	}

	s.app.DB().Model(&domain.SysOpr{}).Where("id = ?", opr.ID).
		Update("last_login", time.Now())
	s.writeOprLog(opr.Username, c.RealIP(), "login", "operator signed in")

	return ok(c, map[string]interface{}{
		"token":    signed,
		"username": opr.Username,
		"level":    opr.Level,
	})
}

// verifyPassword checks a password against the stored hash. New operator
// rows carry bcrypt hashes; pre-migration rows used sha256+salt and still
// authenticate until their next password change.
func verifyPassword(stored, password string) bool {
	if strings.HasPrefix(stored, "$2") {
		return common.BcryptCheck(stored, password)
	}
	return stored == common.Sha256HashWithSalt(password, common.GetSecretSalt())
}

// writeOprLog records an audit entry; failures are logged and ignored.
func (s *Server) writeOprLog(oprName, ip, action, desc string) {
	err := s.app.DB().Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   oprName,
		OprIp:     ip,
		OptAction: action,
		OptDesc:   desc,
		OptTime:   time.Now(),
	}).Error
	if err != nil {
		zap.L().Warn("adminapi: oprlog write failed", zap.Error(err))
	}
}
