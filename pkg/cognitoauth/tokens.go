package cognitoauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/kataras/jwt"
	"golang.org/x/oauth2"
)

var (
	errTokenExpired = errors.New("token expired")
	errTokenClaims  = errors.New("unexpected token claims")
)

// subset of claims of an ID token the pool issues
type idTokenClaims struct {
	Issuer   string `json:"iss"`
	Subject  string `json:"sub"`
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	TokenUse string `json:"token_use"`
	Username string `json:"cognito:username"`
	Email    string `json:"email,omitempty"`
}

// pools with email-as-username still have "cognito:username" (= sub), but be liberal
func (c *idTokenClaims) username() string {
	if c.Username != "" {
		return c.Username
	}

	return c.Subject
}

type tokenVerifier struct {
	keys     keySource
	issuer   string
	clientId string
}

// checks signature, expiry, issuer, audience and token use
func (v *tokenVerifier) verifyIdToken(ctx context.Context, token string) (*idTokenClaims, error) {
	keys, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}

	claims := &idTokenClaims{}
	err = keys.VerifyToken([]byte(token), claims)
	if errors.Is(err, jwt.ErrUnknownKid) { // pool may have rotated its keys since we fetched them
		keys, err = v.keys.Refresh(ctx)
		if err != nil {
			return nil, err
		}

		err = keys.VerifyToken([]byte(token), claims)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%w: %v", errTokenExpired, err)
		}

		return nil, fmt.Errorf("verifyIdToken: %w", err)
	}

	switch {
	case claims.Issuer != v.issuer:
		return nil, fmt.Errorf("%w: iss=%s", errTokenClaims, claims.Issuer)
	case claims.Audience != v.clientId:
		return nil, fmt.Errorf("%w: aud=%s", errTokenClaims, claims.Audience)
	case claims.TokenUse != "id":
		return nil, fmt.Errorf("%w: token_use=%s", errTokenClaims, claims.TokenUse)
	case claims.username() == "":
		return nil, fmt.Errorf("%w: no username", errTokenClaims)
	}

	return claims, nil
}

// tokens from the token endpoint, as stored in session cookies
type sessionTokens struct {
	username     string
	idToken      string
	accessToken  string
	refreshToken string
}

func sessionTokensFrom(tokens *oauth2.Token) (sessionTokens, error) {
	idToken, _ := tokens.Extra("id_token").(string)
	if idToken == "" {
		return sessionTokens{}, errors.New("token response without id_token")
	}

	return sessionTokens{
		idToken:      idToken,
		accessToken:  tokens.AccessToken,
		refreshToken: tokens.RefreshToken,
	}, nil
}
