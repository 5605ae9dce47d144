package emailsend

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"sync"

	awsclient "notification-workers/internal/common/aws"
	"notification-workers/internal/common/errors"

	"github.com/wneessen/go-mail"
)

// Transport hands a rendered message to a mail provider and returns the
// provider's message id.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *mail.Msg, p *Payload) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// smtpConn is one pooled SMTP session. The client is redialed lazily after
// any failure. raw is the socket of the current session.
type smtpConn struct {
	client    *mail.Client
	connected bool

	mu  sync.Mutex
	raw net.Conn
}

// abort closes the session socket so a blocked SMTP exchange returns.
func (c *smtpConn) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw != nil {
		_ = c.raw.Close()
	}
}

// reset drops the session so the next use dials a fresh one.
func (c *smtpConn) reset() {
	if c.connected {
		_ = c.client.Close()
	}
	c.connected = false
	c.mu.Lock()
	if c.raw != nil {
		_ = c.raw.Close()
		c.raw = nil
	}
	c.mu.Unlock()
}

// SMTPTransport keeps up to PoolSize SMTP sessions open and hands them out one
// delivery at a time.
type SMTPTransport struct {
	config *Config
	pool   chan *smtpConn

	mu     sync.Mutex
	closed bool
}

func NewSMTPTransport(cfg *Config) (*SMTPTransport, error) {
	t := &SMTPTransport{
		config: cfg,
		pool:   make(chan *smtpConn, cfg.PoolSize),
	}
	for i := 0; i < cfg.PoolSize; i++ {
		conn := &smtpConn{}
		client, err := t.newClient(conn)
		if err != nil {
			return nil, fmt.Errorf("failed to create mail client: %w", err)
		}
		conn.client = client
		t.pool <- conn
	}
	return t, nil
}

// newClient builds a go-mail client that dials through conn so the session
// socket stays reachable for cancellation. Implicit TLS is negotiated by the
// dialer, so go-mail is told not to attempt STARTTLS on top of it.
func (t *SMTPTransport) newClient(conn *smtpConn) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(t.config.SMTPPort),
		mail.WithTimeout(t.config.Timeout),
		mail.WithDialContextFunc(t.dialer(conn)),
	}
	if t.config.Secure {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if t.config.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.config.SMTPUsername),
			mail.WithPassword(t.config.SMTPPassword),
		)
	}
	return mail.NewClient(t.config.SMTPHost, opts...)
}

func (t *SMTPTransport) dialer(conn *smtpConn) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		netDialer := &net.Dialer{}
		var (
			raw net.Conn
			err error
		)
		if t.config.Secure {
			tlsDialer := &tls.Dialer{
				NetDialer: netDialer,
				Config:    &tls.Config{ServerName: t.config.SMTPHost, MinVersion: tls.VersionTLS12},
			}
			raw, err = tlsDialer.DialContext(ctx, network, address)
		} else {
			raw, err = netDialer.DialContext(ctx, network, address)
		}
		if err != nil {
			return nil, err
		}
		conn.mu.Lock()
		conn.raw = raw
		conn.mu.Unlock()
		return raw, nil
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) acquire(ctx context.Context) (*smtpConn, error) {
	select {
	case conn, ok := <-t.pool:
		if !ok {
			return nil, fmt.Errorf("smtp transport closed")
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *SMTPTransport) release(conn *smtpConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.reset()
		return
	}
	t.pool <- conn
}

// Send delivers msg on a pooled session. When ctx ends mid-transaction the
// session socket is closed, which unblocks the exchange, and the session is
// redialed on its next use.
func (t *SMTPTransport) Send(ctx context.Context, msg *mail.Msg, _ *Payload) (string, error) {
	conn, err := t.acquire(ctx)
	if err != nil {
		return "", ClassifySMTPError(err)
	}
	defer t.release(conn)

	if !conn.connected {
		if err := conn.client.DialWithContext(ctx); err != nil {
			conn.reset()
			return "", ClassifySMTPError(err)
		}
		conn.connected = true
	}

	done := make(chan error, 1)
	go func() { done <- conn.client.Send(msg) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		conn.abort()
		<-done
		err = ctx.Err()
	}
	if err != nil {
		conn.reset()
		return "", ClassifySMTPError(err)
	}
	return MessageID(msg), nil
}

// Ping dials a pooled session, unless one is already open, to verify the
// server answers.
func (t *SMTPTransport) Ping(ctx context.Context) error {
	conn, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer t.release(conn)

	if conn.connected {
		return nil
	}
	if err := conn.client.DialWithContext(ctx); err != nil {
		conn.reset()
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	conn.connected = true
	return nil
}

func (t *SMTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.pool)
	t.mu.Unlock()

	var errs []error
	for conn := range t.pool {
		if conn.connected {
			errs = append(errs, conn.client.Close())
			conn.connected = false
		}
	}
	return stderrors.Join(errs...)
}

// ClassifySMTPError maps go-mail errors onto the delivery taxonomy. 4xx
// replies and network failures are transient, 5xx replies are rejections.
func ClassifySMTPError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("smtp", err)
	}

	var sendErr *mail.SendError
	if stderrors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return errors.NewTransientError("smtp", err)
		}
		return errors.NewProviderRejectedError("smtp", 0, err.Error()).WithCause(err)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError("smtp", err)
	}
	return errors.NewTransientError("smtp", err)
}

// SESSender is the part of the SES client the transport needs.
type SESSender interface {
	SendRaw(ctx context.Context, from string, destinations []string, raw []byte) (string, error)
}

// SESTransport renders the message once and submits it through SES.
type SESTransport struct {
	client SESSender
}

func NewSESTransport(client SESSender) *SESTransport {
	return &SESTransport{client: client}
}

var _ SESSender = (*awsclient.SESClient)(nil)

func (t *SESTransport) Name() string { return "ses" }

func (t *SESTransport) Send(ctx context.Context, msg *mail.Msg, p *Payload) (string, error) {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return "", errors.NewInternalError(fmt.Errorf("render message: %w", err))
	}
	return t.client.SendRaw(ctx, p.From, p.Recipients(), buf.Bytes())
}

func (t *SESTransport) Ping(context.Context) error { return nil }

func (t *SESTransport) Close() error { return nil }
