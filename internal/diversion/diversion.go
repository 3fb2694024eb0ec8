// Package diversion installs and removes the nftables rules that hand
// matching packets to an NFQUEUE queue number, and recovers from a crashed
// prior run by sweeping every rule tagged with its signature. An on-disk
// breadcrumb records the rules installed for the active test.
package diversion

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"github.com/tturner/fracture/internal/config"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/logging"
)

const (
	tableName   = "fracture"
	outputChain = "output"
	inputChain  = "input"
	// signature is a comment tag attached to every rule this controller
	// installs, so a later start's sweep can recognize and remove them.
	signature = "fracture-diversion"

	// nfProtoIPv4/nfProtoIPv6 are linux/netfilter.h's NFPROTO_* values,
	// used to guard a rule to one address family inside the shared inet
	// table.
	nfProtoIPv4 = 2
	nfProtoIPv6 = 10

	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
	addrLenV4     = 4
	addrLenV6     = 16

	transportSrcPortOffset = 0
	transportDstPortOffset = 2
)

// protoNumbers maps the JSON config's iptables-style protocol names to
// their IP protocol numbers, per netfilter.py's proto filter.
var protoNumbers = map[string]byte{
	"tcp":    unix.IPPROTO_TCP,
	"udp":    unix.IPPROTO_UDP,
	"icmp":   unix.IPPROTO_ICMP,
	"icmpv6": unix.IPPROTO_ICMPV6,
}

// Conn is the subset of *nftables.Conn the controller needs, letting tests
// substitute a fake without a real netlink socket.
type Conn interface {
	AddTable(*nftables.Table) *nftables.Table
	AddChain(*nftables.Chain) *nftables.Chain
	AddRule(*nftables.Rule) *nftables.Rule
	DelRule(*nftables.Rule) error
	ListRules(*nftables.Chain) ([]*nftables.Rule, error)
	Flush() error
}

// Breadcrumb is the on-disk record of rules installed for the active test.
// Sweep deletes a leftover breadcrumb file without reading it; it finds
// stale rules by their signature tag alone.
type Breadcrumb struct {
	QNumsOutput []int `json:"qnums_output"`
	QNumsInput  []int `json:"qnums_input"`
}

// Controller installs and tears down diversion rules for one test at a
// time and persists a breadcrumb across the test's lifetime.
type Controller struct {
	conn           Conn
	breadcrumbPath string
	logger         *logging.Logger
	installed      []*nftables.Rule // in install order; removed in reverse
}

// New builds a Controller. breadcrumbPath is where the installed-rules
// breadcrumb is persisted while a test is active.
func New(conn Conn, breadcrumbPath string, logger *logging.Logger) *Controller {
	return &Controller{conn: conn, breadcrumbPath: breadcrumbPath, logger: logger}
}

// Sweep removes any rule tagged with this controller's signature, run once
// at startup before the suite begins. Idempotent: running it twice with no
// test in between leaves the tables unchanged after the second sweep.
func (c *Controller) Sweep() error {
	table := &nftables.Table{Name: tableName, Family: nftables.TableFamilyINet}
	for _, chainName := range []string{outputChain, inputChain} {
		chain := &nftables.Chain{Table: table, Name: chainName}
		rules, err := c.conn.ListRules(chain)
		if err != nil {
			// No table/chain yet is not an error: nothing to sweep.
			continue
		}
		for _, r := range rules {
			if ruleTagged(r) {
				if err := c.conn.DelRule(r); err != nil {
					return fmt.Errorf("diversion: sweep delrule: %w", err)
				}
			}
		}
	}
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("diversion: sweep flush: %w", err)
	}
	if err := os.Remove(c.breadcrumbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("diversion: remove stale breadcrumb: %w", err)
	}
	return nil
}

func ruleTagged(r *nftables.Rule) bool {
	return string(r.UserData) == signature
}

// Install brings up the inet fracture {output,input} chains (creating them
// if absent) and adds one rule per NFRule that queues matching traffic.
// Failure here is a SetupError: the caller marks the test setup-error and
// continues the suite.
func (c *Controller) Install(rules []config.NFRule, testIndex int) error {
	table := c.conn.AddTable(&nftables.Table{Name: tableName, Family: nftables.TableFamilyINet})
	out := c.conn.AddChain(&nftables.Chain{
		Name: outputChain, Table: table,
		Hooknum: nftables.ChainHookOutput, Priority: nftables.ChainPriorityFilter,
		Type: nftables.ChainTypeFilter,
	})
	in := c.conn.AddChain(&nftables.Chain{
		Name: inputChain, Table: table,
		Hooknum: nftables.ChainHookInput, Priority: nftables.ChainPriorityFilter,
		Type: nftables.ChainTypeFilter,
	})

	bc := Breadcrumb{}
	for _, r := range rules {
		if r.OutputChain {
			installed, err := directionRules(table, out, r.QNum, r, false)
			if err != nil {
				return fractureerrors.NewSetupError(err, testIndex)
			}
			for _, rule := range installed {
				c.installed = append(c.installed, c.conn.AddRule(rule))
			}
			bc.QNumsOutput = append(bc.QNumsOutput, r.QNum)
		}
		if r.InputChain {
			installed, err := directionRules(table, in, r.QNum+1, r, true)
			if err != nil {
				return fractureerrors.NewSetupError(err, testIndex)
			}
			for _, rule := range installed {
				c.installed = append(c.installed, c.conn.AddRule(rule))
			}
			bc.QNumsInput = append(bc.QNumsInput, r.QNum+1)
		}
	}
	if err := c.conn.Flush(); err != nil {
		return fractureerrors.NewSetupError(fmt.Errorf("diversion install flush: %w", err), testIndex)
	}
	if err := c.writeBreadcrumb(bc); err != nil {
		return fractureerrors.NewSetupError(err, testIndex)
	}
	return nil
}

// directionRules builds the rules that queue rule's selected traffic on
// chain to qnum. isInput picks which side of the connection host/port
// match against: output chains match the packet's destination, input
// chains match its source, mirroring fragscapy's OUTPUT/-d/--dport versus
// INPUT/-s/--sport chain pairing. When both address families are enabled
// and no literal host is pinned, one family-agnostic rule covers both;
// otherwise a rule per enabled family carries an NFPROTO guard so the
// shared inet table only diverts the family the config asked for.
func directionRules(table *nftables.Table, chain *nftables.Chain, qnum int, rule config.NFRule, isInput bool) ([]*nftables.Rule, error) {
	build := func(family byte, host string) (*nftables.Rule, error) {
		exprs, err := matchExprs(rule, isInput, family, host)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, &expr.Queue{Num: uint16(qnum)})
		return &nftables.Rule{
			Table:    table,
			Chain:    chain,
			UserData: []byte(signature),
			Exprs:    exprs,
		}, nil
	}

	if rule.IPv4 && rule.IPv6 && rule.Host == "" && rule.Host6 == "" {
		r, err := build(0, "")
		if err != nil {
			return nil, err
		}
		return []*nftables.Rule{r}, nil
	}

	var rules []*nftables.Rule
	if rule.IPv4 {
		r, err := build(nfProtoIPv4, rule.Host)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if rule.IPv6 {
		r, err := build(nfProtoIPv6, rule.Host6)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// matchExprs translates one rule's selectors into nftables match
// expressions for one address family (family == 0 means "either"), per
// netfilter.py's _build_nfqueue_opt: proto is matched independently of
// host, and port is only matched when proto is also set.
func matchExprs(rule config.NFRule, isInput bool, family byte, host string) ([]expr.Any, error) {
	var exprs []expr.Any
	if family != 0 {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{family}},
		)
	}
	if host != "" {
		addrExprs, err := hostMatchExprs(host, family, isInput)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, addrExprs...)
	}
	if rule.Proto != "" {
		protoNum, ok := protoNumbers[rule.Proto]
		if !ok {
			return nil, fmt.Errorf("diversion: unknown protocol %q", rule.Proto)
		}
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{protoNum}},
		)
		if rule.Port != "" {
			port, err := strconv.ParseUint(rule.Port, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("diversion: invalid port %q: %w", rule.Port, err)
			}
			offset := uint32(transportDstPortOffset)
			if isInput {
				offset = transportSrcPortOffset
			}
			exprs = append(exprs,
				&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: offset, Len: 2},
				&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{byte(port >> 8), byte(port)}},
			)
		}
	}
	return exprs, nil
}

// hostMatchExprs matches a literal IP address against the network header
// at the offset for family and direction. Hostnames are rejected: unlike
// iptables, nftables match data is a fixed byte string resolved once at
// rule-install time, so there is no equivalent of iptables' own DNS
// lookup and config.NFRule.Host/Host6 must already be a literal address.
func hostMatchExprs(host string, family byte, isInput bool) ([]expr.Any, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("diversion: host %q is not a literal IP address", host)
	}
	var offset, length uint32
	var data []byte
	if family == nfProtoIPv6 {
		data = ip.To16()
		if data == nil {
			return nil, fmt.Errorf("diversion: host6 %q is not a valid IPv6 address", host)
		}
		length = addrLenV6
		offset = ipv6DstOffset
		if isInput {
			offset = ipv6SrcOffset
		}
	} else {
		data = ip.To4()
		if data == nil {
			return nil, fmt.Errorf("diversion: host %q is not a valid IPv4 address", host)
		}
		length = addrLenV4
		offset = ipv4DstOffset
		if isInput {
			offset = ipv4SrcOffset
		}
	}
	return []expr.Any{
		&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: offset, Len: length},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: data},
	}, nil
}

// Uninstall removes exactly the rules Install added, in reverse install
// order, then removes the breadcrumb. Always called on every exit path.
func (c *Controller) Uninstall() error {
	var firstErr error
	for i := len(c.installed) - 1; i >= 0; i-- {
		if err := c.conn.DelRule(c.installed[i]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("diversion: delrule: %w", err)
		}
	}
	c.installed = nil
	if err := c.conn.Flush(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("diversion: uninstall flush: %w", err)
	}
	if err := os.Remove(c.breadcrumbPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = fmt.Errorf("diversion: remove breadcrumb: %w", err)
	}
	return firstErr
}

func (c *Controller) writeBreadcrumb(bc Breadcrumb) error {
	b, err := json.Marshal(bc)
	if err != nil {
		return fmt.Errorf("diversion: marshal breadcrumb: %w", err)
	}
	if err := os.WriteFile(c.breadcrumbPath, b, 0o600); err != nil {
		return fmt.Errorf("diversion: write breadcrumb: %w", err)
	}
	return nil
}

// signalMask is referenced by the start command's cancellation handling; kept
// here since it documents which signals abort an active test per the
// concurrency model.
var signalMask = []os.Signal{unix.SIGINT, unix.SIGTERM}

// SignalMask returns the signals that trigger test cancellation.
func SignalMask() []os.Signal { return signalMask }
