package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jun/erpdrive/internal/errs"
	"go.uber.org/zap"
)

// header performs a case-insensitive header lookup.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GetUserID extracts the caller id from the Authorization header or the session cookie.
func GetUserID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	if tokenString == "" {
		// Cookie format: session_token=xxx; ...
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "session_token=") {
				tokenString = strings.TrimPrefix(part, "session_token=")
				break
			}
		}
	}

	if tokenString == "" {
		return "", fmt.Errorf("%w: no authorization token found", errs.ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: invalid token: %v", errs.ErrUnauthorized, err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%w: invalid token claims", errs.ErrUnauthorized)
}

// respond writes the success envelope {"ok": true, ...data}.
func respond(status int, data map[string]any) events.APIGatewayProxyResponse {
	body := map[string]any{"ok": true}
	for k, v := range data {
		body[k] = v
	}
	return jsonResponse(status, body)
}

// fail writes the error envelope {"ok": false, "error_code", "message"}.
func fail(logger *zap.Logger, err error) events.APIGatewayProxyResponse {
	status := errs.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		if errs.Code(err) == "INTERNAL_ERROR" {
			msg = "internal server error"
		}
	}
	return ErrorResponse(status, errs.Code(err), msg)
}

// ErrorResponse builds the error envelope for responses that do not come from a service error.
func ErrorResponse(status int, code, message string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]any{
		"ok":         false,
		"error_code": code,
		"message":    message,
	})
}

func jsonResponse(status int, body map[string]any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"ok":false,"error_code":"INTERNAL_ERROR","message":"encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(b),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// requestBody returns the raw body, decoding it when API Gateway delivered it base64-encoded.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := decodeBase64(req.Body)
	if err != nil {
		return nil, errs.Validation("request body is not valid base64")
	}
	return b, nil
}
