package models

import (
	"fmt"
	"time"
)

// Device classes.
const (
	DeviceWeb     = "web"
	DeviceAndroid = "android"
	DeviceIOS     = "ios"
)

// DeviceToken is an FCM registration token for one of a user's devices.
type DeviceToken struct {
	UserID      string    `json:"userId" firestore:"userId" dynamodbav:"userId"`
	Token       string    `json:"token" firestore:"token" dynamodbav:"token"`
	DeviceClass string    `json:"deviceClass" firestore:"deviceClass" dynamodbav:"deviceClass"`
	Active      bool      `json:"active" firestore:"active" dynamodbav:"active"`
	CreatedAt   time.Time `json:"createdAt" firestore:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" firestore:"updatedAt" dynamodbav:"updatedAt"`
}

// DeviceTokenID is the document key of a user's token for a device class.
func DeviceTokenID(userID, deviceClass string) string {
	return fmt.Sprintf("%s_%s", userID, deviceClass)
}

// ID returns the document key of t.
func (t *DeviceToken) ID() string {
	return DeviceTokenID(t.UserID, t.DeviceClass)
}

// RegisterTokenRequest is the body of POST /tokens.
type RegisterTokenRequest struct {
	Token       string `json:"token" binding:"required"`
	DeviceClass string `json:"deviceClass" binding:"omitempty,oneof=web android ios"`
}
