// redirects all http -> https. session cookies are Secure-only, so plain HTTP can never sign in.
package insecureredirector

import (
	"net/http"
)

func Handler() http.Handler {
	return http.HandlerFunc(redirectAllHttpToHttps)
}

func redirectAllHttpToHttps(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.Path
	if len(r.URL.RawQuery) > 0 {
		target += "?" + r.URL.RawQuery
	}

	// come back when you have TLS, bro
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}
