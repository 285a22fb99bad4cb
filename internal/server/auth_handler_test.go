package server_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/appleboy/gofight/v2"
	"github.com/mdouchement/timecapsule/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fastjson"
)

func TestRequestRegistration(t *testing.T) {
	engine, _, r := setup(t)

	r.POST("/auth").Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusBadRequest, r.Code)
		assert.JSONEq(t, `{"error":{"message":"Could not get user's params."}}`, r.Body.String())
	})

	params := gofight.D{}
	r.POST("/auth").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusBadRequest, r.Code)
		assert.JSONEq(t, `{"error":{"message":"No email provided."}}`, r.Body.String())
	})

	params["email"] = "george.abitbol@nowhere.lan"
	r.POST("/auth").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusBadRequest, r.Code)
		assert.JSONEq(t, `{"error":{"message":"No password provided."}}`, r.Body.String())
	})

	params["password"] = "password42"
	r.POST("/auth").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)

		v, err := fastjson.Parse(r.Body.String())
		assert.NoError(t, err)

		assert.Regexp(t, `.*\..*\..*`, string(v.Get("token").GetStringBytes()))
		assert.Equal(t, 1, v.Get("user", "id").GetInt())
		assert.Equal(t, params["email"], string(v.Get("user", "email").GetStringBytes()))
		assert.False(t, v.Get("user", "milestone").GetBool())
		assert.Nil(t, v.Get("user", "password"))

		timestamp, err := time.Parse(time.RFC3339Nano, string(v.Get("user", "created_at").GetStringBytes()))
		assert.NoError(t, err)
		assert.Less(t, time.Since(timestamp).Nanoseconds(), (5 * time.Second).Nanoseconds())
	})

	r.POST("/auth").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"message":"This email is already registered."}}`, r.Body.String())
	})
}

func TestRequestRegistrationDisabled(t *testing.T) {
	_, f, r := setup(t)
	f.NoRegistration = true
	engine := server.EchoEngine(f.Controller)

	r.POST("/auth").SetJSON(gofight.D{"email": "george.abitbol@nowhere.lan", "password": "password42"}).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.NotEqual(t, http.StatusOK, r.Code)
	})

	_, err := f.Database.FindUserByMail("george.abitbol@nowhere.lan")
	assert.True(t, f.Database.IsNotFound(err))
}

func TestRequestLogin(t *testing.T) {
	engine, f, r := setup(t)
	user := createUser(t, f.Controller)

	params := gofight.D{
		"email": user.Email,
	}
	r.POST("/auth/sign_in").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusBadRequest, r.Code)
		assert.JSONEq(t, `{"error":{"message":"No email or password provided."}}`, r.Body.String())
	})

	params["password"] = "password"
	r.POST("/auth/sign_in").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"message":"Invalid email or password."}}`, r.Body.String())
	})

	params["email"] = "unknown@nowhere.lan"
	r.POST("/auth/sign_in").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"message":"Invalid email or password."}}`, r.Body.String())
	})

	params["email"] = user.Email
	params["password"] = "password42"
	var token string
	r.POST("/auth/sign_in").SetJSON(params).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)

		v, err := fastjson.Parse(r.Body.String())
		assert.NoError(t, err)
		token = string(v.Get("token").GetStringBytes())
		assert.Equal(t, user.ID, v.Get("user", "id").GetInt())
	})

	r.GET("/capsule/my").SetHeader(gofight.H{"Authorization": "Bearer " + token}).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)
		assert.JSONEq(t, `[]`, r.Body.String())
	})
}

func TestRequestRestricted(t *testing.T) {
	engine, f, r := setup(t)
	user := createUser(t, f.Controller)

	r.GET("/capsule/my").Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"tag":"invalid-auth","message":"Invalid login credentials."}}`, r.Body.String())
	})

	r.GET("/capsule/my").SetHeader(gofight.H{"Authorization": "Bearer not.a.token"}).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"tag":"invalid-auth","message":"Invalid login credentials."}}`, r.Body.String())
	})

	other := *f
	other.SigningKey = []byte("another secret")
	r.GET("/capsule/my").SetHeader(bearer(other.Controller, user)).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
	})

	// Password changed after the token issuance.
	headers := bearer(f.Controller, user)
	user.PasswordUpdatedAt = time.Now().Add(time.Hour).Unix()
	assert.NoError(t, f.Database.Save(user))
	r.GET("/capsule/my").SetHeader(headers).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"tag":"invalid-auth","message":"Revoked token."}}`, r.Body.String())
	})

	// Deleted user.
	assert.NoError(t, f.Database.Delete(user))
	r.GET("/capsule/my").SetHeader(headers).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusUnauthorized, r.Code)
		assert.JSONEq(t, `{"error":{"tag":"invalid-auth","message":"No such user for given token."}}`, r.Body.String())
	})
}

func TestRequestMilestoneCredential(t *testing.T) {
	engine, f, r := setup(t)
	user := createUser(t, f.Controller)

	r.POST("/auth/milestone").SetHeader(bearer(f.Controller, user)).SetJSON(gofight.D{"token": "ghp_token"}).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)

		v, err := fastjson.Parse(r.Body.String())
		assert.NoError(t, err)
		assert.True(t, v.Get("user", "milestone").GetBool())
	})

	stored, err := f.Database.FindUser(user.ID)
	assert.NoError(t, err)
	assert.Equal(t, "ghp_token", stored.MilestoneCredential)

	r.POST("/auth/milestone").SetHeader(bearer(f.Controller, user)).SetJSON(gofight.D{"token": ""}).Run(engine, func(r gofight.HTTPResponse, rq gofight.HTTPRequest) {
		assert.Equal(t, http.StatusOK, r.Code)
	})

	stored, err = f.Database.FindUser(user.ID)
	assert.NoError(t, err)
	assert.False(t, stored.HasMilestoneCredential())
}
