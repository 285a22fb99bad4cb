package server

import (
	"github.com/mdouchement/timecapsule/internal/model"
	"github.com/mdouchement/timecapsule/internal/server/service"
)

// This file is only for test purpose and is only loaded by test framework.

// TokenFromUser returns JWT tokens.
func TokenFromUser(ctrl Controller, u *model.User) string {
	token, err := service.NewUser(ctrl.Database, ctrl.SigningKey).Token(u)
	if err != nil {
		panic(err)
	}
	return token
}
