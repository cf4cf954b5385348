//go:build go1.18

package domain

import "testing"

// FuzzParsePrincipalID checks that parsing never panics and that any accepted
// id round-trips.
func FuzzParsePrincipalID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE accounts;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParsePrincipalID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("accepted nil id")
		}
		roundTrip, err := ParsePrincipalID(id.String())
		if err != nil {
			t.Fatalf("valid ID failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Fatal("round-trip changed ID value")
		}
	})
}

func FuzzParseProductID(f *testing.F) {
	f.Add("sticker_pack_1")
	f.Add("")
	f.Add("a b")

	f.Fuzz(func(t *testing.T, input string) {
		p, err := ParseProductID(input)
		if err != nil {
			return
		}
		if _, err := ParseProductID(p.String()); err != nil {
			t.Fatalf("accepted product id failed re-parse: %v", err)
		}
	})
}
