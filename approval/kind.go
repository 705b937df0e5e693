package approval

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-authgate/ringbot/routing"
)

// BackendCall is a backend endpoint parameterised by the subject id.
type BackendCall struct {
	Method string
	Path   string // fmt pattern with one %s for the subject id
}

// For returns the request path for subjectID.
func (c BackendCall) For(subjectID string) string {
	return fmt.Sprintf(c.Path, url.PathEscape(subjectID))
}

// Kind is a type of submission reviewed through the workflow.
type Kind struct {
	Name             string
	SubmitCategory   routing.Category
	VerifiedCategory routing.Category
	// AskReason makes a rejection prompt the actor for a reason first.
	AskReason bool
	Submit    BackendCall
	Verify    BackendCall
	Reject    BackendCall
}

var (
	KindUser = Kind{
		Name:             "user",
		SubmitCategory:   routing.UserSubmit,
		VerifiedCategory: routing.UserVerify,
		AskReason:        true,
		Submit:           BackendCall{Method: http.MethodPost, Path: "/api/post/user/submit"},
		Verify:           BackendCall{Method: http.MethodPut, Path: "/api/put/user/verify/%s"},
		Reject:           BackendCall{Method: http.MethodDelete, Path: "/api/delete/user/by-discord/%s"},
	}

	KindAd = Kind{
		Name:             "ad",
		SubmitCategory:   routing.AdSubmit,
		VerifiedCategory: routing.AdVerify,
		Submit:           BackendCall{Method: http.MethodPost, Path: "/api/post/ad/submit"},
		Verify:           BackendCall{Method: http.MethodPut, Path: "/api/put/ad/verify/%s"},
		Reject:           BackendCall{Method: http.MethodDelete, Path: "/api/delete/ad/by-discord/%s"},
	}
)

var kinds = map[string]Kind{
	KindUser.Name: KindUser,
	KindAd.Name:   KindAd,
}

// LookupKind returns the Kind registered under name.
func LookupKind(name string) (Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}
