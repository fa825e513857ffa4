package evaluation

import "github.com/kailas-cloud/vecfuse/internal/domain/payload"

// Vendor is the human-readable part of a vendor payload.
type Vendor struct {
	Name   string
	Email  string
	Status string
}

// VendorOf reads vendor_name, vendor_email and vendor_status, falling back to
// the nested data map of raw rows.
func VendorOf(p payload.Map) Vendor {
	return Vendor{
		Name:   field(p, "vendor_name", "name"),
		Email:  field(p, "vendor_email", "email"),
		Status: field(p, "vendor_status", "status"),
	}
}

func field(p payload.Map, flat, nested string) string {
	if s := p.Text(flat); s != "" {
		return s
	}
	return p.Text("data", nested)
}
