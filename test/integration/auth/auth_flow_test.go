// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authgate Contributors

//go:build integration

package auth_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type response struct {
	status  int
	body    string
	cookies []*http.Cookie
}

func send(method, url, body string, mutate ...func(*http.Request)) response {
	GinkgoHelper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return response{status: resp.StatusCode, body: string(data), cookies: resp.Cookies()}
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func decodePair(r response) tokenPair {
	GinkgoHelper()
	var pair tokenPair
	Expect(json.Unmarshal([]byte(r.body), &pair)).To(Succeed())
	Expect(pair.AccessToken).NotTo(BeEmpty())
	Expect(pair.RefreshToken).NotTo(BeEmpty())
	return pair
}

func cookie(r response, name string) *http.Cookie {
	GinkgoHelper()
	for _, c := range r.cookies {
		if c.Name == name {
			return c
		}
	}
	Fail("cookie " + name + " not set")
	return nil
}

const aliceCreds = `{"username":"alice","password":"Secret123!"}`

func refreshBody(tok string) string {
	return `{"refreshToken":"` + tok + `"}`
}

var _ = Describe("Auth API", func() {
	for _, backend := range []struct {
		name     string
		useRedis bool
	}{
		{"postgres refresh store", false},
		{"redis refresh store", true},
	} {
		Context("with "+backend.name, func() {
			var a *api

			BeforeEach(func() {
				truncate()
				a = startAPI(backend.useRedis)
				DeferCleanup(a.Close)
			})

			It("registers, logs in, rotates and rejects replay", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))

				login := send(http.MethodPost, a.URL("/auth/login?useCookies=false"), aliceCreds)
				Expect(login.status).To(Equal(http.StatusOK))
				first := decodePair(login)

				whoami := send(http.MethodGet, a.URL("/auth/test-authentication"), "", bearer(first.AccessToken))
				Expect(whoami.status).To(Equal(http.StatusOK))
				Expect(whoami.body).To(Equal("Hi there, alice. You are authenticated!"))

				rotated := send(http.MethodPost, a.URL("/auth/refresh"), refreshBody(first.RefreshToken))
				Expect(rotated.status).To(Equal(http.StatusOK))
				second := decodePair(rotated)
				Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

				replay := send(http.MethodPost, a.URL("/auth/refresh"), refreshBody(first.RefreshToken))
				Expect(replay.status).To(Equal(http.StatusUnauthorized))

				Expect(send(http.MethodPost, a.URL("/auth/refresh"), refreshBody(second.RefreshToken)).status).
					To(Equal(http.StatusOK))
			})

			It("rejects a duplicate username", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))
				dup := send(http.MethodPost, a.URL("/auth/register"), aliceCreds)
				Expect(dup.status).To(Equal(http.StatusConflict))
				Expect(dup.body).To(Equal("Username already exists"))
			})

			It("distinguishes unknown users from bad passwords", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))
				Expect(send(http.MethodPost, a.URL("/auth/login"), `{"username":"bob","password":"x"}`).status).
					To(Equal(http.StatusNotFound))
				Expect(send(http.MethodPost, a.URL("/auth/login"), `{"username":"alice","password":"nope"}`).status).
					To(Equal(http.StatusUnauthorized))
			})

			It("delivers and rotates tokens as cookies", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))
				login := send(http.MethodPost, a.URL("/auth/login?useCookies=true"), aliceCreds)
				Expect(login.status).To(Equal(http.StatusOK))
				Expect(login.body).To(BeEmpty())

				access := cookie(login, "accessToken")
				refresh := cookie(login, "refreshToken")
				Expect(access.HttpOnly).To(BeTrue())
				Expect(refresh.Secure).To(BeTrue())
				Expect(refresh.SameSite).To(Equal(http.SameSiteNoneMode))

				whoami := send(http.MethodGet, a.URL("/auth/test-authentication"), "", func(r *http.Request) { r.AddCookie(access) })
				Expect(whoami.status).To(Equal(http.StatusOK))

				rotated := send(http.MethodPost, a.URL("/auth/refresh?useCookies=true"), "", func(r *http.Request) { r.AddCookie(refresh) })
				Expect(rotated.status).To(Equal(http.StatusOK))
				Expect(cookie(rotated, "refreshToken").Value).NotTo(Equal(refresh.Value))

				missing := send(http.MethodPost, a.URL("/auth/refresh?useCookies=true"), "")
				Expect(missing.status).To(Equal(http.StatusBadRequest))
			})

			It("lets exactly one concurrent refresh win", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))
				pair := decodePair(send(http.MethodPost, a.URL("/auth/login"), aliceCreds))

				const racers = 8
				statuses := make(chan int, racers)
				var wg sync.WaitGroup
				for range racers {
					wg.Add(1)
					go func() {
						defer GinkgoRecover()
						defer wg.Done()
						statuses <- send(http.MethodPost, a.URL("/auth/refresh"), refreshBody(pair.RefreshToken)).status
					}()
				}
				wg.Wait()
				close(statuses)

				counts := map[int]int{}
				for s := range statuses {
					counts[s]++
				}
				Expect(counts).To(Equal(map[int]int{
					http.StatusOK:           1,
					http.StatusUnauthorized: racers - 1,
				}))
			})

			It("revokes every refresh token of the caller only", func() {
				Expect(send(http.MethodPost, a.URL("/auth/register"), aliceCreds).status).To(Equal(http.StatusOK))
				first := decodePair(send(http.MethodPost, a.URL("/auth/login"), aliceCreds))
				second := decodePair(send(http.MethodPost, a.URL("/auth/login"), aliceCreds))

				claims, err := a.issuer.ParseAccessToken(first.AccessToken)
				Expect(err).NotTo(HaveOccurred())
				path := "/auth/" + claims.Subject + "/refresh-tokens"

				Expect(send(http.MethodDelete, a.URL("/auth/999999/refresh-tokens"), "", bearer(first.AccessToken)).status).
					To(Equal(http.StatusUnauthorized))
				Expect(send(http.MethodDelete, a.URL(path), "").status).To(Equal(http.StatusUnauthorized))
				Expect(send(http.MethodDelete, a.URL(path), "", bearer(first.AccessToken)).status).To(Equal(http.StatusOK))

				for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
					Expect(send(http.MethodPost, a.URL("/auth/refresh"), refreshBody(tok)).status).
						To(Equal(http.StatusUnauthorized))
				}

				Expect(send(http.MethodGet, a.URL("/auth/test-authentication"), "", bearer(first.AccessToken)).status).
					To(Equal(http.StatusOK))
			})
		})
	}
})
