package protocol

import (
	"encoding/json"

	"github.com/google/uuid"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
)

// NewRequestID returns a request ID guaranteed unique among outstanding
// requests. UUIDs avoid any bookkeeping against reuse across reconnects.
func NewRequestID() string {
	return uuid.NewString()
}

// Negotiator drives the initialize handshake: it builds the outbound
// initialize request and validates the peer's offered protocol version.
// The zero value is not usable; construct with NewNegotiator.
type Negotiator struct {
	supported map[string]bool
	current   string

	// LegacyMode accepts PreviousProtocolVersion with a warning even when it
	// is not in the supported set. Without it negotiation fails closed.
	LegacyMode bool

	logger logging.Logger
}

// NegotiatorOption configures a Negotiator.
type NegotiatorOption func(*Negotiator)

// WithSupportedVersions overrides the supported version set. The first
// version is offered as the current one.
func WithSupportedVersions(versions ...string) NegotiatorOption {
	return func(n *Negotiator) {
		if len(versions) == 0 {
			return
		}
		n.supported = make(map[string]bool, len(versions))
		for _, v := range versions {
			n.supported[v] = true
		}
		n.current = versions[0]
	}
}

// WithLegacyMode enables acceptance of the one-prior protocol revision.
func WithLegacyMode() NegotiatorOption {
	return func(n *Negotiator) {
		n.LegacyMode = true
	}
}

// WithNegotiatorLogger sets the logger used for negotiation warnings.
func WithNegotiatorLogger(logger logging.Logger) NegotiatorOption {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// NewNegotiator creates a Negotiator supporting the current protocol
// revision.
func NewNegotiator(opts ...NegotiatorOption) *Negotiator {
	n := &Negotiator{
		supported: map[string]bool{CurrentProtocolVersion: true},
		current:   CurrentProtocolVersion,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// CurrentVersion returns the version offered in outbound handshakes.
func (n *Negotiator) CurrentVersion() string {
	return n.current
}

// SupportedVersions returns the supported version set.
func (n *Negotiator) SupportedVersions() []string {
	versions := make([]string, 0, len(n.supported))
	for v := range n.supported {
		versions = append(versions, v)
	}
	return versions
}

// CreateInitializeRequest builds the initialize request offering the current
// supported version.
func (n *Negotiator) CreateInitializeRequest(capabilities Capabilities, clientInfo Implementation) (*Request, error) {
	return NewRequest(NewRequestID(), MethodInitialize, &InitializeParams{
		ProtocolVersion: n.current,
		Capabilities:    capabilities,
		ClientInfo:      clientInfo,
	})
}

// CreateInitializedNotification builds the notification that completes the
// handshake.
func (n *Negotiator) CreateInitializedNotification() (*Notification, error) {
	return NewNotification(MethodInitialized, &InitializedParams{})
}

// HandleInitializeResponse validates the peer's answer to initialize and
// extracts the negotiated version, server info, and capabilities. An error
// response or an unacceptable version fails the handshake; the connection
// never silently downgrades.
func (n *Negotiator) HandleInitializeResponse(resp *Response) (*InitializeResult, error) {
	if resp.Error != nil {
		return nil, mcperrors.InitializationFailed(resp.Error.Message).
			WithData(map[string]interface{}{"code": resp.Error.Code})
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, mcperrors.InitializationFailed("malformed initialize result").
			WithDetail(err.Error())
	}

	if err := n.CheckVersion(result.ProtocolVersion); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckVersion applies the negotiation policy to a peer-offered version:
// accept members of the supported set; in legacy mode additionally accept
// the previous revision with a warning; otherwise fail closed.
func (n *Negotiator) CheckVersion(offered string) error {
	if n.supported[offered] {
		return nil
	}

	if n.LegacyMode && offered == PreviousProtocolVersion {
		n.logger.Warn("accepting legacy protocol version",
			logging.String("offered", offered),
			logging.String("current", n.current))
		return nil
	}

	return mcperrors.UnsupportedProtocolVersion(offered, n.SupportedVersions())
}
