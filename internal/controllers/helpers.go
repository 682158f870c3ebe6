package controllers

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-contrib/requestid"
	"github.com/sirupsen/logrus"
)

func parseUserID(param string) (int64, error) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user ID: %q", param)
	}
	return id, nil
}

// requestLogger tags entries with the request ID set by the requestid middleware.
func requestLogger(logger *logrus.Entry, c *gin.Context) *logrus.Entry {
	if id := requestid.Get(c); id != "" {
		return logger.WithField("request_id", id)
	}
	return logger
}

func firstWarning(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	return warnings[0]
}
