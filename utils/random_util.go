package utils

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func GetUUID() string {
	u1, err := uuid.NewUUID()
	if err != nil {
		logrus.Errorf("[GetUUID] fail, err = %v", err)
		return uuid.NewString()
	}
	return u1.String()
}

// GetShortID 日志中使用的短id
func GetShortID() string {
	return GetUUID()[:8]
}
