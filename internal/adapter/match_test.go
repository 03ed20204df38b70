package adapter

import (
	"testing"

	"github.com/kailas-cloud/datagate/internal/domain"
)

func TestMatchOperators(t *testing.T) {
	row := domain.Row{
		"name": "alice",
		"qty":  int64(5),
		"tags": []any{"rush", "gift"},
		"nested": map[string]any{
			"city": "oslo",
		},
	}

	cases := []struct {
		name   string
		filter domain.Filter
		want   bool
	}{
		{"equality", domain.Filter{"name": "alice"}, true},
		{"equality miss", domain.Filter{"name": "bob"}, false},
		{"numeric equality across kinds", domain.Filter{"qty": 5.0}, true},
		{"gte", domain.Filter{"qty": domain.Filter{"$gte": 5}}, true},
		{"gt fails on equal", domain.Filter{"qty": domain.Filter{"$gt": 5}}, false},
		{"lt", domain.Filter{"qty": domain.Filter{"$lt": 6}}, true},
		{"ne", domain.Filter{"name": domain.Filter{"$ne": "bob"}}, true},
		{"in", domain.Filter{"name": domain.Filter{"$in": []any{"bob", "alice"}}}, true},
		{"nin", domain.Filter{"name": domain.Filter{"$nin": []any{"bob"}}}, true},
		{"exists true", domain.Filter{"qty": domain.Filter{"$exists": true}}, true},
		{"exists false on present", domain.Filter{"qty": domain.Filter{"$exists": false}}, false},
		{"exists false on absent", domain.Filter{"ghost": domain.Filter{"$exists": false}}, true},
		{"array element equality", domain.Filter{"tags": "rush"}, true},
		{"array element miss", domain.Filter{"tags": "late"}, false},
		{"dotted path", domain.Filter{"nested.city": "oslo"}, true},
		{"and", domain.Filter{"$and": []any{
			domain.Filter{"name": "alice"},
			domain.Filter{"qty": domain.Filter{"$gte": 1}},
		}}, true},
		{"or", domain.Filter{"$or": []any{
			domain.Filter{"name": "bob"},
			domain.Filter{"qty": int64(5)},
		}}, true},
		{"nor", domain.Filter{"$nor": []any{
			domain.Filter{"name": "bob"},
		}}, true},
		{"empty filter matches", domain.Filter{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(row, tc.filter); got != tc.want {
				t.Errorf("Match(%v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestCompareOrdersMixedNumericKinds(t *testing.T) {
	c, ok := Compare(int64(2), 10.0)
	if !ok || c >= 0 {
		t.Fatalf("Compare(2, 10.0) = %d, %v", c, ok)
	}
	if _, ok := Compare("a", 1); ok {
		t.Fatal("string and number must be incomparable")
	}
}

func TestLookupAndSetPath(t *testing.T) {
	row := domain.Row{}
	SetPath(row, "a.b.c", 7)
	v, ok := LookupPath(row, "a.b.c")
	if !ok || v != 7 {
		t.Fatalf("round trip lost the value: %v %v", v, ok)
	}
	if _, ok := LookupPath(row, "a.x"); ok {
		t.Fatal("missing path must report absent")
	}
}
