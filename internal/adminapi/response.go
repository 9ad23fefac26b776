package adminapi

import (
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type pagedData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, apiResponse{Success: true, Data: data})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, apiResponse{Success: false, Error: &apiError{
		Code: code, Message: message, Detail: detail,
	}})
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return ok(c, pagedData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

type oprClaims struct {
	ID       int64
	Username string
	Level    string
}

func (o oprClaims) isSuper() bool {
	return o.Level == "super"
}

// currentOpr extracts the authenticated operator from the JWT token.
func currentOpr(c echo.Context) oprClaims {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return oprClaims{}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return oprClaims{}
	}
	id, _ := strconv.ParseInt(toString(claims["uid"]), 10, 64)
	return oprClaims{
		ID:       id,
		Username: toString(claims["usr"]),
		Level:    toString(claims["lvl"]),
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
