package hubspot

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func urlErr(err error) error {
	return &url.Error{Op: "Post", URL: "https://api.hubapi.com/crm/v3/objects/contacts/search", Err: err}
}

func TestIsTransientNetworkErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", urlErr(timeoutErr{}), true},
		{"deadline", urlErr(context.DeadlineExceeded), true},
		{"reset", urlErr(&net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}), true},
		{"eof", urlErr(io.EOF), true},
		{"unexpected eof", urlErr(io.ErrUnexpectedEOF), true},
		{"canceled", urlErr(context.Canceled), false},
		{"tls", urlErr(x509.UnknownAuthorityError{}), false},
		{"bad url", urlErr(errors.New("unsupported protocol scheme")), false},
		{"dns", urlErr(&net.DNSError{Err: "no such host", Name: "api.hubapi.invalid"}), false},
		{"wrapped 503", fmt.Errorf("search: %w", &APIError{Status: 503}), true},
		{"400", &APIError{Status: 400}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}
