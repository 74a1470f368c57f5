package restapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
)

var toValidate = map[string]string{
	"aud": "api://default",
	"cid": os.Getenv("OKTA_CLIENT_ID"),
}

// verify the bearer token in header.
func verify(c *gin.Context) bool {
	status := true

	// Allow easy debugging on dev.
	if os.Getenv("VELLUM_ENV") == "DEV" {
		return true
	}

	token := c.Request.Header.Get("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimPrefix(token, "Bearer ")

		// Allow easy QA, bypass Okta based OAuth2 token verification w/ simple token equality check.
		if os.Getenv("VELLUM_ENV") == "QA" {
			devToken := os.Getenv("VELLUM_QA_TOKEN")
			if token == devToken {
				return true
			}
		}

		verifierSetup := jwtverifier.JwtVerifier{
			Issuer:           "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
			ClaimsToValidate: toValidate,
		}
		verifier := verifierSetup.New()
		if _, err := verifier.VerifyAccessToken(token); err != nil {
			c.String(http.StatusForbidden, err.Error())
			status = false
		}
	} else {
		c.String(http.StatusUnauthorized, "Unauthorized")
		status = false
	}
	return status
}
