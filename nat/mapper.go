package nat

import (
	"net"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/huin/goupnp/dcps/internetgateway2"
	"github.com/pion/stun"

	"github.com/quietmesh/dhtcore/dhttype"
)

// ExternalMapper discovers this node's externally reachable address,
// independent of what friends report back via ReturnIP. None of these
// implementations replace the DHT-routed punching heuristic in natping.go
// — they only shorten cold-start NAT detection, per spec.md §9's note
// that the port-guess formula is retained verbatim regardless.
type ExternalMapper interface {
	// ExternalAddr returns the node's external address as seen by this
	// mapper's mechanism, mapping internalPort if the mechanism supports
	// explicit port mapping.
	ExternalAddr(internalPort uint16) (dhttype.IpPort, error)
	Name() string
}

// PMPMapper discovers and maps ports via NAT-PMP against the default
// gateway.
type PMPMapper struct {
	Gateway net.IP
	Lifetime int // seconds
}

func NewPMPMapper(gateway net.IP) *PMPMapper {
	return &PMPMapper{Gateway: gateway, Lifetime: 3600}
}

func (m *PMPMapper) Name() string { return "nat-pmp" }

func (m *PMPMapper) ExternalAddr(internalPort uint16) (dhttype.IpPort, error) {
	client := natpmp.NewClient(m.Gateway)
	extResp, err := client.GetExternalAddress()
	if err != nil {
		return dhttype.IpPort{}, err
	}
	mapResp, err := client.AddPortMapping("udp", int(internalPort), int(internalPort), m.Lifetime)
	if err != nil {
		return dhttype.IpPort{}, err
	}
	var out dhttype.IpPort
	out.V4 = extResp.ExternalIPAddress
	out.Port = mapResp.MappedExternalPort
	return out, nil
}

// UPnPMapper discovers and maps ports via a WANIPConnection/WANPPPConnection
// service on the LAN's Internet Gateway Device.
type UPnPMapper struct {
	Lifetime uint32 // seconds
}

func NewUPnPMapper() *UPnPMapper {
	return &UPnPMapper{Lifetime: 3600}
}

func (m *UPnPMapper) Name() string { return "upnp" }

func (m *UPnPMapper) ExternalAddr(internalPort uint16) (dhttype.IpPort, error) {
	clients, _, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return dhttype.IpPort{}, err
	}
	if len(clients) == 0 {
		return dhttype.IpPort{}, errNoGateway
	}
	client := clients[0]

	extIP, err := client.GetExternalIPAddress()
	if err != nil {
		return dhttype.IpPort{}, err
	}
	localIP, err := localIPv4()
	if err != nil {
		return dhttype.IpPort{}, err
	}
	err = client.AddPortMapping("", internalPort, "UDP", internalPort, localIP.String(), true, "dhtcore", m.Lifetime)
	if err != nil {
		return dhttype.IpPort{}, err
	}
	var out dhttype.IpPort
	ip := net.ParseIP(extIP).To4()
	if ip == nil {
		return dhttype.IpPort{}, errNotIPv4
	}
	copy(out.V4[:], ip)
	out.Port = internalPort
	return out, nil
}

func localIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", "203.0.113.1:80") // TEST-NET-3, never dialed out
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// STUNMapper learns this node's server-reflexive address via a single
// binding request against a configured STUN server. It never performs
// port mapping, only discovery.
type STUNMapper struct {
	Server  string
	Timeout time.Duration
}

func NewSTUNMapper(server string) *STUNMapper {
	return &STUNMapper{Server: server, Timeout: 5 * time.Second}
}

func (m *STUNMapper) Name() string { return "stun" }

func (m *STUNMapper) ExternalAddr(internalPort uint16) (dhttype.IpPort, error) {
	c, err := stun.Dial("udp4", m.Server)
	if err != nil {
		return dhttype.IpPort{}, err
	}
	defer c.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	var result dhttype.IpPort
	var callErr error
	c.SetRTO(m.Timeout)
	err = c.Do(message, func(res stun.Event) {
		if res.Error != nil {
			callErr = res.Error
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			callErr = err
			return
		}
		result = dhttype.FromUDPAddr(&net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port})
	})
	if err != nil {
		return dhttype.IpPort{}, err
	}
	if callErr != nil {
		return dhttype.IpPort{}, callErr
	}
	return result, nil
}

// ProbeAll tries every configured mapper in order, stops at the first
// success and records it as e.External.
func (e *Engine) ProbeAll(internalPort uint16) {
	for _, m := range e.Mappers {
		addr, err := m.ExternalAddr(internalPort)
		if err != nil {
			e.log.Debug("external mapper failed", "mapper", m.Name(), "err", err)
			continue
		}
		e.External = &addr
		e.log.Info("discovered external address", "mapper", m.Name(), "addr", addr)
		return
	}
}

var (
	errNoGateway = stunAddrError("nat: no UPnP gateway found")
	errNotIPv4   = stunAddrError("nat: gateway reported a non-IPv4 external address")
)

type stunAddrError string

func (e stunAddrError) Error() string { return string(e) }
