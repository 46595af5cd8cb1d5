package reconcile

import (
	"fmt"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/registry"
)

const (
	fieldTypename   = "__typename"
	fieldResults    = "results"
	fieldTotalCount = "totalCount"
)

// Page is one cached list result:
//
//	{"__typename": "MultiPostOutput", "results": [...], "totalCount": 12}
//
// Fields other than those three are kept in Extra and written back as-is.
type Page struct {
	Typename   string
	Results    []ir.IRObject
	TotalCount *int64
	Extra      ir.IRObject

	// IDField names the document id used for set membership.
	IDField string
}

// DecodePage validates v as a list page of typeName.
//
// A page must be an object whose results field is an array of objects.
// totalCount, when present and not null, must be an integer. __typename,
// when present, must equal the result marker for typeName; a page tagged
// for a different type is rejected rather than repaired.
func DecodePage(v ir.IRValue, typeName, idField string) (Page, error) {
	obj, ok := v.(ir.IRObject)
	if !ok {
		return Page{}, fmt.Errorf("page is %s, want object", ir.TypeName(v))
	}

	p := Page{IDField: idField, Extra: ir.IRObject{}}
	for k, val := range obj {
		switch k {
		case fieldTypename:
			s, ok := val.(ir.IRString)
			if !ok {
				return Page{}, fmt.Errorf("%s is %s, want string", fieldTypename, ir.TypeName(val))
			}
			if want := mutation.ResultMarker(typeName); string(s) != want {
				return Page{}, fmt.Errorf("%s is %q, want %q", fieldTypename, string(s), want)
			}
			p.Typename = string(s)
		case fieldResults:
			arr, ok := val.(ir.IRArray)
			if !ok {
				return Page{}, fmt.Errorf("%s is %s, want array", fieldResults, ir.TypeName(val))
			}
			p.Results = make([]ir.IRObject, 0, len(arr))
			for i, elem := range arr {
				doc, ok := elem.(ir.IRObject)
				if !ok {
					return Page{}, fmt.Errorf("%s[%d] is %s, want object", fieldResults, i, ir.TypeName(elem))
				}
				p.Results = append(p.Results, doc)
			}
		case fieldTotalCount:
			switch n := val.(type) {
			case ir.IRNull:
			case ir.IRInt:
				count := int64(n)
				p.TotalCount = &count
			default:
				return Page{}, fmt.Errorf("%s is %s, want int", fieldTotalCount, ir.TypeName(val))
			}
		default:
			p.Extra[k] = val
		}
	}

	if p.Results == nil {
		return Page{}, fmt.Errorf("missing %s", fieldResults)
	}
	return p, nil
}

// Encode renders the page back to its cached form.
func (p Page) Encode() ir.IRObject {
	out := make(ir.IRObject, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	results := make(ir.IRArray, len(p.Results))
	for i, doc := range p.Results {
		results[i] = doc
	}
	out[fieldResults] = results
	if p.Typename != "" {
		out[fieldTypename] = ir.IRString(p.Typename)
	}
	if p.TotalCount != nil {
		out[fieldTotalCount] = ir.IRInt(*p.TotalCount)
	}
	return out
}

// IDs returns the ids of the page's results in order. Documents without an
// id contribute nil.
func (p Page) IDs() []ir.IRValue {
	out := make([]ir.IRValue, len(p.Results))
	for i, doc := range p.Results {
		out[i], _ = p.id(doc)
	}
	return out
}

func (p Page) idKey() string {
	if p.IDField == "" {
		return registry.DefaultIDField
	}
	return p.IDField
}

func (p Page) id(doc ir.IRObject) (ir.IRValue, bool) {
	v, ok := doc[p.idKey()]
	if !ok {
		return nil, false
	}
	if _, isNull := v.(ir.IRNull); isNull {
		return nil, false
	}
	return v, true
}

// clone copies the page header and results slice. Documents are shared;
// mutators never modify a document in place.
func (p Page) clone() Page {
	out := p
	out.Results = append([]ir.IRObject(nil), p.Results...)
	if p.TotalCount != nil {
		n := *p.TotalCount
		out.TotalCount = &n
	}
	return out
}
