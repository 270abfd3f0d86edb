package mailbox

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/utils"
)

// Endpoint is a mail server address. ImplicitTLS is set for imaps/smtps,
// otherwise STARTTLS is used when the server offers it.
type Endpoint struct {
	Host        string
	Port        int
	ImplicitTLS bool
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

type protocol struct {
	secureScheme string
	plainScheme  string
	securePort   int
	plainPort    int
	// RFC 6186 service names
	secureSRV string
	plainSRV  string
	// conventional host prefix tried when discovery finds nothing
	hostPrefix string
}

var (
	imapProtocol = protocol{
		secureScheme: "imaps", plainScheme: "imap",
		securePort: 993, plainPort: 143,
		secureSRV: "imaps", plainSRV: "imap",
		hostPrefix: "imap.",
	}
	smtpProtocol = protocol{
		secureScheme: "smtps", plainScheme: "smtp",
		securePort: 465, plainPort: 587,
		secureSRV: "submissions", plainSRV: "submission",
		hostPrefix: "smtp.",
	}
)

// ParseIMAPEndpoint accepts imaps://host[:port], imap://host[:port] or host[:port].
func ParseIMAPEndpoint(raw string) (Endpoint, error) {
	return parseEndpoint(raw, imapProtocol)
}

// ParseSMTPEndpoint accepts smtps://host[:port], smtp://host[:port] or host[:port].
func ParseSMTPEndpoint(raw string) (Endpoint, error) {
	return parseEndpoint(raw, smtpProtocol)
}

func parseEndpoint(raw string, p protocol) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, mailerrors.ErrInvalidMailboxURL
	}
	if !strings.Contains(raw, "://") {
		raw = p.secureScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, errors.Wrap(mailerrors.ErrInvalidMailboxURL, err.Error())
	}

	var e Endpoint
	switch strings.ToLower(u.Scheme) {
	case p.secureScheme:
		e = Endpoint{ImplicitTLS: true, Port: p.securePort}
	case p.plainScheme:
		e = Endpoint{Port: p.plainPort}
	default:
		return Endpoint{}, errors.Wrapf(mailerrors.ErrInvalidMailboxURL, "unsupported scheme %q", u.Scheme)
	}

	e.Host = u.Hostname()
	if e.Host == "" {
		return Endpoint{}, errors.Wrap(mailerrors.ErrInvalidMailboxURL, "missing host")
	}
	if port := u.Port(); port != "" {
		e.Port, err = strconv.Atoi(port)
		if err != nil || e.Port <= 0 || e.Port > 65535 {
			return Endpoint{}, errors.Wrapf(mailerrors.ErrInvalidMailboxURL, "invalid port %q", port)
		}
	}
	return e, nil
}

type srvResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// discover resolves the endpoint of a service for the domain of address using
// SRV records, falling back to the conventional host name.
func discover(ctx context.Context, resolver srvResolver, address string, p protocol) (Endpoint, error) {
	domain := utils.ExtractDomainFromEmail(address)
	if domain == "" {
		return Endpoint{}, errors.Wrapf(mailerrors.ErrInvalidMailboxURL, "cannot discover server for %q", address)
	}

	lookups := []struct {
		service string
		tls     bool
	}{
		{p.secureSRV, true},
		{p.plainSRV, false},
	}
	for _, l := range lookups {
		_, records, err := resolver.LookupSRV(ctx, l.service, "tcp", domain)
		if err != nil || len(records) == 0 {
			continue
		}
		sort.SliceStable(records, func(i, j int) bool {
			if records[i].Priority != records[j].Priority {
				return records[i].Priority < records[j].Priority
			}
			return records[i].Weight > records[j].Weight
		})
		for _, r := range records {
			// "." target means the service is not offered
			target := strings.TrimSuffix(r.Target, ".")
			if target == "" || r.Port == 0 {
				continue
			}
			return Endpoint{Host: target, Port: int(r.Port), ImplicitTLS: l.tls}, nil
		}
	}

	return Endpoint{Host: p.hostPrefix + domain, Port: p.securePort, ImplicitTLS: true}, nil
}

func resolveEndpoint(ctx context.Context, resolver srvResolver, raw, address string, p protocol) (Endpoint, error) {
	if strings.TrimSpace(raw) != "" {
		return parseEndpoint(raw, p)
	}
	e, err := discover(ctx, resolver, address, p)
	if err != nil {
		return Endpoint{}, fmt.Errorf("discover %s endpoint: %w", p.plainScheme, err)
	}
	return e, nil
}
