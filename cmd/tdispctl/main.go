// Command tdispctl sends TDISP requests to a running tdispd and prints the
// decoded responses. It speaks for the host side only as far as a probe
// needs to.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/tdispd/internal/logging"
	"github.com/danmuck/tdispd/internal/protocol"
	"github.com/danmuck/tdispd/internal/transport"
)

var ErrUsage = errors.New("usage")

const usage = `tdispctl [flags] <command> [args]

commands:
  version
  caps
  state
  lock [flags] [mmio_reporting_offset]
  report                       fetch and decode the whole interface report
  start <nonce-hex>
  stop`

type options struct {
	network  string
	addr     string
	function uint32
	timeout  time.Duration
	attempts int
	security transport.Security
}

func main() {
	opts, args := parseFlags()
	logging.ConfigureRuntime()

	if len(args) == 0 {
		fatalf("%s", usage)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	client, err := transport.DialRetry(ctx, opts.network, opts.addr, opts.security, transport.DefaultBackoff(), opts.attempts)
	if err != nil {
		fatalf("%v", err)
	}
	defer client.Close()

	p := &probe{rt: client, id: protocol.InterfaceID{FunctionID: opts.function}}
	out, err := p.run(ctx, args[0], args[1:])
	if err != nil {
		if errors.Is(err, ErrUsage) {
			fatalf("%v\n\n%s", err, usage)
		}
		fatalf("%v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatalf("%v", err)
	}
}

func parseFlags() (options, []string) {
	var opts options
	var function string
	flag.StringVar(&opts.network, "network", "tcp", "transport network: tcp|unix|vsock")
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:7300", "responder address (vsock: cid:port)")
	flag.StringVar(&function, "function", "0x00010000", "FUNCTION_ID of the target interface")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "overall deadline")
	flag.IntVar(&opts.attempts, "attempts", 3, "dial attempts (0 retries until the deadline)")
	mode := flag.String("security-mode", "development", "development|production")
	flag.BoolVar(&opts.security.TLS.Enabled, "tls", false, "use TLS")
	flag.BoolVar(&opts.security.TLS.Mutual, "mtls", false, "present a client certificate")
	flag.StringVar(&opts.security.TLS.CertFile, "tls-cert", "", "client certificate")
	flag.StringVar(&opts.security.TLS.KeyFile, "tls-key", "", "client key")
	flag.StringVar(&opts.security.TLS.CAFile, "tls-ca", "", "CA bundle for the responder certificate")
	flag.StringVar(&opts.security.TLS.ServerName, "tls-server-name", "", "expected responder name")
	flag.Parse()

	id, err := strconv.ParseUint(function, 0, 32)
	if err != nil {
		fatalf("invalid -function %q: %v", function, err)
	}
	opts.function = uint32(id)
	opts.security.Mode = transport.SecurityMode(*mode)
	return opts, flag.Args()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tdispctl: "+format+"\n", args...)
	os.Exit(1)
}

// roundTripper is the part of transport.Client the probe needs.
type roundTripper interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
}

type probe struct {
	rt roundTripper
	id protocol.InterfaceID
}

// tdispError is a TDISP_ERROR response surfaced as a Go error.
type tdispError struct {
	Code protocol.ErrorCode
	Data uint32
}

func (e *tdispError) Error() string {
	return fmt.Sprintf("responder returned %s (data 0x%08x)", e.Code, e.Data)
}

func (p *probe) call(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	req, err := protocol.Marshal(protocol.Header{Version: protocol.Version10, Type: m.Type(), Interface: p.id}, m)
	if err != nil {
		return nil, err
	}
	raw, err := p.rt.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	h, rsp, err := protocol.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if er, ok := rsp.(*protocol.ErrorResponse); ok {
		return nil, &tdispError{Code: er.Code, Data: er.Data}
	}
	if h.Type != m.Type().ResponseType() {
		return nil, fmt.Errorf("expected %s, got %s", m.Type().ResponseType(), h.Type)
	}
	return rsp, nil
}

func (p *probe) run(ctx context.Context, cmd string, args []string) (any, error) {
	switch strings.ToLower(cmd) {
	case "version":
		rsp, err := p.call(ctx, &protocol.GetVersionRequest{})
		if err != nil {
			return nil, err
		}
		versions := make([]string, 0)
		for _, v := range rsp.(*protocol.VersionResponse).Versions {
			versions = append(versions, fmt.Sprintf("%d.%d", v>>4, v&0x0f))
		}
		return map[string]any{"versions": versions}, nil
	case "caps":
		rsp, err := p.call(ctx, &protocol.GetCapabilitiesRequest{})
		if err != nil {
			return nil, err
		}
		caps := rsp.(*protocol.CapabilitiesResponse)
		supported := make([]string, 0)
		for _, t := range protocol.RequestTypes() {
			if caps.Supports(t) {
				supported = append(supported, t.String())
			}
		}
		return map[string]any{
			"dsm_caps":             caps.DSMCaps,
			"requests_supported":   supported,
			"lock_flags_supported": fmt.Sprintf("0x%04x", uint16(caps.LockInterfaceFlagsSupported)),
			"dev_addr_width":       caps.DevAddrWidth,
			"num_req_this":         caps.NumReqThis,
			"num_req_all":          caps.NumReqAll,
		}, nil
	case "state":
		rsp, err := p.call(ctx, &protocol.GetDeviceInterfaceStateRequest{})
		if err != nil {
			return nil, err
		}
		return map[string]any{"state": rsp.(*protocol.DeviceInterfaceStateResponse).State.String()}, nil
	case "lock":
		req, err := lockRequest(args)
		if err != nil {
			return nil, err
		}
		rsp, err := p.call(ctx, req)
		if err != nil {
			return nil, err
		}
		nonce := rsp.(*protocol.LockInterfaceResponse).StartInterfaceNonce
		return map[string]any{"start_interface_nonce": hex.EncodeToString(nonce[:])}, nil
	case "report":
		report, raw, err := p.report(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"bytes": len(raw), "report": report}, nil
	case "start":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: start needs the nonce from lock", ErrUsage)
		}
		nonce, err := parseNonce(args[0])
		if err != nil {
			return nil, err
		}
		if _, err := p.call(ctx, &protocol.StartInterfaceRequest{StartInterfaceNonce: nonce}); err != nil {
			return nil, err
		}
		return map[string]any{"started": true}, nil
	case "stop":
		if _, err := p.call(ctx, &protocol.StopInterfaceRequest{}); err != nil {
			return nil, err
		}
		return map[string]any{"stopped": true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

// report reads the interface report in maximum-size portions.
func (p *probe) report(ctx context.Context) (protocol.InterfaceReport, []byte, error) {
	var raw []byte
	for {
		rsp, err := p.call(ctx, &protocol.GetDeviceInterfaceReportRequest{
			Offset: uint16(len(raw)),
			Length: protocol.MaxReportPortion,
		})
		if err != nil {
			return protocol.InterfaceReport{}, nil, err
		}
		portion := rsp.(*protocol.DeviceInterfaceReportResponse)
		raw = append(raw, portion.Report...)
		if portion.RemainderLength == 0 {
			break
		}
		if len(portion.Report) == 0 {
			return protocol.InterfaceReport{}, nil, fmt.Errorf("responder returned an empty portion with %d bytes remaining", portion.RemainderLength)
		}
	}
	var report protocol.InterfaceReport
	if err := report.UnmarshalBinary(raw); err != nil {
		return protocol.InterfaceReport{}, nil, fmt.Errorf("decode report: %w", err)
	}
	return report, raw, nil
}

func lockRequest(args []string) (*protocol.LockInterfaceRequest, error) {
	if len(args) > 2 {
		return nil, fmt.Errorf("%w: lock takes at most flags and offset", ErrUsage)
	}
	req := &protocol.LockInterfaceRequest{}
	if len(args) > 0 {
		flags, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: lock flags %q: %v", ErrUsage, args[0], err)
		}
		req.Flags = protocol.LockFlags(flags)
	}
	if len(args) > 1 {
		offset, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: reporting offset %q: %v", ErrUsage, args[1], err)
		}
		req.MMIOReportingOffset = offset
	}
	return req, nil
}

func parseNonce(s string) (protocol.Nonce, error) {
	var nonce protocol.Nonce
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nonce, fmt.Errorf("%w: nonce: %v", ErrUsage, err)
	}
	if len(b) != protocol.NonceSize {
		return nonce, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrUsage, protocol.NonceSize, len(b))
	}
	copy(nonce[:], b)
	return nonce, nil
}
