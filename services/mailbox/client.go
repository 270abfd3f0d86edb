package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/interfaces"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = time.Minute
	logoutTimeout  = 5 * time.Second
)

type Config struct {
	// SubscriptionLifetime bounds a single IDLE subscription, it then ends cleanly
	SubscriptionLifetime time.Duration
}

// Connector opens IMAP/SMTP backed mailbox clients.
type Connector struct {
	log      logger.Logger
	cfg      Config
	resolver srvResolver
}

func NewConnector(cfg Config, log logger.Logger) *Connector {
	if cfg.SubscriptionLifetime <= 0 {
		cfg.SubscriptionLifetime = defaultSubscriptionLifetime
	}
	return &Connector{log: log, cfg: cfg, resolver: net.DefaultResolver}
}

func (c *Connector) Connect(ctx context.Context, credentials interfaces.MailboxCredentials) (interfaces.MailboxClient, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxConnector.Connect")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, credentials.Address)

	if credentials.Address == "" || credentials.Credential == "" {
		tracing.TraceErr(span, mailerrors.ErrMailboxNotConfigured)
		return nil, mailerrors.ErrMailboxNotConfigured
	}

	imapEndpoint, err := resolveEndpoint(ctx, c.resolver, credentials.URL, credentials.Address, imapProtocol)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	smtpEndpoint, err := resolveEndpoint(ctx, c.resolver, credentials.SMTPURL, credentials.Address, smtpProtocol)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.SetTag("imap.endpoint", imapEndpoint.String())
	span.SetTag("smtp.endpoint", smtpEndpoint.String())

	cl := &Client{
		log:      c.log.With(zap.String("mailbox", credentials.Address)),
		cfg:      c.cfg,
		address:  credentials.Address,
		password: credentials.Credential,
		imap:     imapEndpoint,
		smtp:     smtpEndpoint,
	}
	cl.dial = cl.dialIMAP
	cl.sendMail = cl.sendSMTP

	// fail fast on bad credentials
	cl.mu.Lock()
	_, err = cl.connectionLocked(ctx)
	cl.mu.Unlock()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	cl.log.Info("mailbox connected",
		zap.String("imap", imapEndpoint.String()),
		zap.String("smtp", smtpEndpoint.String()))
	return cl, nil
}

// Client implements interfaces.MailboxClient over IMAP for reading and SMTP for sending.
// Commands share one IMAP connection guarded by mu, every subscription dials its own.
type Client struct {
	log      logger.Logger
	cfg      Config
	address  string
	password string
	imap     Endpoint
	smtp     Endpoint

	dial     func(ctx context.Context) (*client.Client, error)
	sendMail func(ctx context.Context, from string, to []string, msg []byte) error

	mu     sync.Mutex
	conn   *client.Client
	closed bool
}

func (c *Client) Address() string {
	return c.address
}

// connectionLocked returns a working command connection, redialing when the current one is broken.
func (c *Client) connectionLocked(ctx context.Context) (*client.Client, error) {
	if c.closed {
		return nil, mailerrors.ErrMailboxDisconnected
	}
	if c.conn != nil {
		c.conn.Timeout = commandTimeout
		err := c.conn.Noop()
		if err == nil {
			return c.conn, nil
		}
		c.log.Warn("existing imap connection is broken, reconnecting", zap.Error(err))
		c.conn.Terminate()
		c.conn = nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dialIMAP(ctx context.Context) (*client.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.dialIMAP")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)
	span.SetTag("server", c.imap.Host)
	span.SetTag("port", c.imap.Port)
	span.SetTag("tls", c.imap.ImplicitTLS)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	tlsConfig := &tls.Config{ServerName: c.imap.Host}

	var conn *client.Client
	var err error
	if c.imap.ImplicitTLS {
		conn, err = client.DialWithDialerTLS(dialer, c.imap.Addr(), tlsConfig)
	} else {
		conn, err = client.DialWithDialer(dialer, c.imap.Addr())
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to connect to %s: %w", c.imap.Addr(), err)
	}

	conn.Timeout = dialTimeout
	if !c.imap.ImplicitTLS {
		if ok, _ := conn.SupportStartTLS(); ok {
			if err = conn.StartTLS(tlsConfig); err != nil {
				conn.Terminate()
				tracing.TraceErr(span, err)
				return nil, fmt.Errorf("starttls with %s: %w", c.imap.Addr(), err)
			}
		}
	}

	if err = conn.Login(c.address, c.password); err != nil {
		conn.Terminate()
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to login as %s: %w", c.address, err)
	}
	conn.Timeout = 0

	return conn, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closed = true
	c.mu.Unlock()

	if conn != nil {
		logout(conn, c.log)
	}
	return nil
}

// logout waits a bounded time for a polite LOGOUT before dropping the connection.
func logout(conn *client.Client, log logger.Logger) {
	conn.Timeout = logoutTimeout
	done := make(chan error, 1)
	go func() {
		done <- conn.Logout()
	}()

	select {
	case err := <-done:
		if err != nil && !isClosedConnError(err) {
			log.Debug("imap logout failed", zap.Error(err))
		}
	case <-time.After(logoutTimeout):
		log.Warn("imap logout timed out")
		conn.Terminate()
	}
}

func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection closed") ||
		strings.Contains(errStr, "already logged out") ||
		strings.Contains(errStr, "eof")
}
