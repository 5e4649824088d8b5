package transfer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Code is the transport-level completion status of one transfer. The numbering
// follows libcurl's CURLcode so reports line up with the curl error table.
// HTTP status codes are not transport failures: any received response is CodeOK.
type Code int

const (
	CodeOK                     Code = 0
	CodeUnsupportedProtocol    Code = 1
	CodeFailed                 Code = 2 // transport failure with no closer match
	CodeURLMalformed           Code = 3
	CodeCouldntResolveProxy    Code = 5
	CodeCouldntResolveHost     Code = 6
	CodeCouldntConnect         Code = 7
	CodeHTTP2                  Code = 16
	CodePartialFile            Code = 18
	CodeWriteError             Code = 23
	CodeOperationTimedOut      Code = 28
	CodeSSLConnectError        Code = 35
	CodeAbortedByCallback      Code = 42
	CodeGotNothing             Code = 52
	CodeSendError              Code = 55
	CodeRecvError              Code = 56
	CodePeerFailedVerification Code = 60
)

var codeNames = map[Code]string{
	CodeOK:                     "ok",
	CodeUnsupportedProtocol:    "unsupported protocol",
	CodeFailed:                 "transfer failed",
	CodeURLMalformed:           "malformed URL",
	CodeCouldntResolveProxy:    "could not resolve proxy",
	CodeCouldntResolveHost:     "could not resolve host",
	CodeCouldntConnect:         "could not connect",
	CodeHTTP2:                  "HTTP/2 error",
	CodePartialFile:            "partial body",
	CodeWriteError:             "write error",
	CodeOperationTimedOut:      "timed out",
	CodeSSLConnectError:        "TLS handshake failed",
	CodeAbortedByCallback:      "aborted",
	CodeGotNothing:             "empty reply",
	CodeSendError:              "send failed",
	CodeRecvError:              "receive failed",
	CodePeerFailedVerification: "peer certificate verification failed",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "code " + strconv.Itoa(int(c))
}

// ErrWriteFailed marks a failure of the response body sink.
var ErrWriteFailed = errors.New("transfer: body sink write failed")

// CodeOf maps the error returned by a transfer to its Code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	if errors.Is(err, ErrWriteFailed) {
		return CodeWriteError
	}
	if errors.Is(err, context.Canceled) {
		return CodeAbortedByCallback
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeOperationTimedOut
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidCert) {
		return CodePeerFailedVerification
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeOperationTimedOut
		}
		return CodeCouldntResolveHost
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeOperationTimedOut
	}

	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) {
		return CodeSSLConnectError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "proxyconnect":
			return CodeCouldntResolveProxy
		case "dial":
			return CodeCouldntConnect
		case "write":
			return CodeSendError
		case "read":
			return CodeRecvError
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return CodePartialFile
	}
	if errors.Is(err, io.EOF) {
		return CodeGotNothing
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if _, ok := urlErr.Err.(url.EscapeError); ok {
			return CodeURLMalformed
		}
		if _, ok := urlErr.Err.(url.InvalidHostError); ok {
			return CodeURLMalformed
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported protocol scheme"):
		return CodeUnsupportedProtocol
	case strings.Contains(msg, "tls: "):
		return CodeSSLConnectError
	case strings.Contains(msg, "http2: "):
		return CodeHTTP2
	case strings.Contains(msg, "no Host in request URL"):
		return CodeURLMalformed
	}
	return CodeFailed
}
