package git

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

// tokenUser is accepted as the basic-auth user name by GitHub, Gitea and
// GitLab when the password is an access token.
const tokenUser = "x-access-token"

// authFor converts a clone token into a go-git auth method. Only http(s)
// remotes carry token auth; ssh remotes fall back to the agent.
func authFor(repoURL string, tok *oauth2.Token) transport.AuthMethod {
	if tok == nil || tok.AccessToken == "" {
		return nil
	}
	lower := strings.ToLower(repoURL)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return nil
	}
	return &http.BasicAuth{Username: tokenUser, Password: tok.AccessToken}
}
