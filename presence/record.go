package presence

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/miekg/dns"
)

// IdProperty is the record property carrying the announcing client's key.
const IdProperty = "id"

var ErrInvalidServiceType = errors.New("invalid service type")

// NormalizeServiceType validates a DNS-SD service type such as "_app._tcp" or
// "_app._tcp.local." and returns it lowercased and fully qualified. A missing
// domain defaults to "local.".
func NormalizeServiceType(serviceType string) (string, error) {
	serviceType = strings.ToLower(strings.TrimSpace(serviceType))
	if len(serviceType) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidServiceType)
	}

	fqdn := dns.Fqdn(serviceType)
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidServiceType, serviceType)
	}

	labels := dns.SplitDomainName(fqdn)
	if len(labels) < 2 || !strings.HasPrefix(labels[0], "_") || (labels[1] != "_tcp" && labels[1] != "_udp") {
		return "", fmt.Errorf("%w: %s", ErrInvalidServiceType, serviceType)
	} else if len(labels) == 2 {
		fqdn += "local."
	}

	return fqdn, nil
}

// SplitServiceType splits a normalized service type into the service part
// ("_app._tcp") and the domain part ("local.").
func SplitServiceType(serviceType string) (service, domain string) {
	labels := dns.SplitDomainName(serviceType)
	if len(labels) < 3 {
		return serviceType, "local."
	}

	return labels[0] + "." + labels[1], dns.Fqdn(strings.Join(labels[2:], "."))
}

// LocalRecord is the announcement payload of this client. The service type
// and client key never change, the display name and properties are guarded
// by the owning Coordinator's state lock.
type LocalRecord struct {
	serviceType string
	clientKey   string

	displayName string
	properties  map[string]string
}

func NewLocalRecord(serviceType, clientKey string) (*LocalRecord, error) {
	serviceType, err := NormalizeServiceType(serviceType)
	if err != nil {
		return nil, err
	} else if len(clientKey) == 0 {
		return nil, fmt.Errorf("missing client key")
	}

	return &LocalRecord{
		serviceType: serviceType,
		clientKey:   clientKey,
		properties:  map[string]string{IdProperty: clientKey},
	}, nil
}

func (r *LocalRecord) ServiceType() string { return r.serviceType }
func (r *LocalRecord) ClientKey() string   { return r.clientKey }
func (r *LocalRecord) DisplayName() string { return r.displayName }

func (r *LocalRecord) SetDisplayName(name string) {
	r.displayName = name
}

// SetProperty sets an additional record property. Keys are case-insensitive
// and stored lowercase, the id property is owned by the record and cannot be
// changed.
func (r *LocalRecord) SetProperty(key, value string) error {
	key = strings.ToLower(key)
	if key == IdProperty {
		return fmt.Errorf("property %s is reserved", IdProperty)
	} else if len(key) == 0 {
		return fmt.Errorf("empty property key")
	}

	r.properties[key] = value
	return nil
}

// Record returns a snapshot of the local record in the provider shape.
func (r *LocalRecord) Record() Record {
	return Record{
		ServiceType: r.serviceType,
		Name:        r.displayName,
		Properties:  maps.Clone(r.properties),
		ClientKey:   r.clientKey,
	}
}

// IsSelf reports whether record was announced by this client.
func (r *LocalRecord) IsSelf(record Record) bool {
	id, ok := record.Id()
	return ok && id == r.clientKey
}

// IsSameServiceType reports whether record belongs to this application.
func (r *LocalRecord) IsSameServiceType(record Record) bool {
	other, err := NormalizeServiceType(record.ServiceType)
	if err != nil {
		return false
	}

	return other == r.serviceType
}
