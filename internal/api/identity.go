package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/courier/internal/registry"
)

// Identity arrives already authenticated from the boundary in front of the
// daemon.
const (
	HeaderUserID   = "X-User-ID"
	HeaderDeviceID = "X-Device-ID"

	userKey   = "courier.user"
	deviceKey = "courier.device"
)

// identity reads the trusted caller identity. Browsers cannot set headers on
// a websocket upgrade, so query parameters are accepted as a fallback.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			userID = c.Query("user_id")
		}
		deviceID := c.GetHeader(HeaderDeviceID)
		if deviceID == "" {
			deviceID = c.Query("device_id")
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserID})
			return
		}
		if err := registry.ValidateID("user id", userID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(userKey, userID)
		c.Set(deviceKey, deviceID)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(userKey)
}

func deviceKeyOf(c *gin.Context) registry.Key {
	return registry.Key{UserID: c.GetString(userKey), DeviceID: c.GetString(deviceKey)}
}
