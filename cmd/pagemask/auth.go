package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

type DefaultBasicAuth struct {
	Auth map[string]string
}

// NewDefaultBasicAuth parses a user:pass|user2:pass2 string.
func NewDefaultBasicAuth(auth string) (*DefaultBasicAuth, error) {
	basicAuth := &DefaultBasicAuth{
		Auth: make(map[string]string),
	}
	for _, e := range strings.Split(auth, "|") {
		n := strings.SplitN(e, ":", 2)
		if len(n) != 2 || n[0] == "" {
			return nil, fmt.Errorf("invalid proxy auth format: %s, expected user:pass", e)
		}
		basicAuth.Auth[n[0]] = n[1]
	}
	return basicAuth, nil
}

// EntryAuth validates proxy authentication.
func (auth *DefaultBasicAuth) EntryAuth(res http.ResponseWriter, req *http.Request) (bool, error) {
	get := req.Header.Get("Proxy-Authorization")
	if get == "" {
		return false, errors.New("missing authentication")
	}
	if !auth.parseRequestAuth(get) {
		return false, errors.New("invalid credentials")
	}
	return true, nil
}

func (auth *DefaultBasicAuth) parseRequestAuth(proxyAuth string) bool {
	if !strings.HasPrefix(proxyAuth, "Basic ") {
		return false
	}
	encodedAuth := strings.TrimPrefix(proxyAuth, "Basic ")
	decodedAuth, err := base64.StdEncoding.DecodeString(encodedAuth)
	if err != nil {
		log.Warnf("Failed to decode Proxy-Authorization header: %v", err)
		return false
	}

	n := strings.SplitN(string(decodedAuth), ":", 2)
	if len(n) < 2 {
		return false
	}
	if s, ok := auth.Auth[n[0]]; !ok || s != n[1] {
		return false
	}
	return true
}
