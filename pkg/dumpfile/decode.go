package dumpfile

import (
	"context"
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"

	"github.com/icatools/icat/icatapi"
)

// Resolver fetches an entity by unique key when the session index cannot.
// A live catalogue connection satisfies this.
type Resolver interface {
	Get(ctx context.Context, key string) (*icatapi.Entity, error)
}

// Decoder turns dump records back into entities.
//
// Reference keys resolve against Index first, then against Remote; every
// remote hit is cached back into Index so a key is fetched at most once
// per session.  Remote may be nil for offline work, in which case any key
// the index does not know fails the decode.
type Decoder struct {
	Registry *icatapi.Registry
	Index    *icatapi.KeyIndex
	Remote   Resolver
}

// Decode materializes the entity a record describes, including its nested
// owned children.  The result carries no identity and is not registered
// anywhere; creating it and indexing its key are the caller's decisions.
//
// Errors:
//
//    - icat-error-unknown-entity-type -- when tag is not in the schema
//    - icat-error-unknown-field -- when the record carries a field the type does not declare
//    - icat-error-unresolved-reference -- when a reference key cannot be resolved
//    - icat-error-serialization -- when a value does not fit the declared field shape
func (d *Decoder) Decode(ctx context.Context, tag icatapi.TypeName, record datamodel.Node) (*icatapi.Entity, error) {
	const situation = "decoding a dump record"

	ti, err := d.Registry.Type(tag)
	if err != nil {
		return nil, err
	}
	if record.Kind() != datamodel.Kind_Map {
		return nil, icatapi.ErrorSerialization(situation,
			fmt.Errorf("record for %s is %s, expected a map", tag, record.Kind()))
	}

	e := icatapi.New(tag)
	for it := record.MapIterator(); !it.Done(); {
		kn, vn, err := it.Next()
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		name, err := kn.AsString()
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		if vn.Kind() == datamodel.Kind_Null {
			continue
		}

		if a, ok := ti.Attr(name); ok {
			v, err := decodeAttr(tag, a, vn)
			if err != nil {
				return nil, err
			}
			e.Attrs[name] = v
			continue
		}
		if _, ok := ti.ToOneRel(name); ok {
			key, err := vn.AsString()
			if err != nil {
				return nil, icatapi.ErrorSerialization(situation,
					fmt.Errorf("field %s.%s: a reference must be a key string", tag, name))
			}
			target, err := d.resolve(ctx, key)
			if err != nil {
				return nil, err
			}
			e.ToOne[name] = target
			continue
		}
		if rel, ok := ti.ToManyRel(name); ok {
			if vn.Kind() != datamodel.Kind_List {
				return nil, icatapi.ErrorSerialization(situation,
					fmt.Errorf("field %s.%s: owned children must be a list", tag, name))
			}
			for lit := vn.ListIterator(); !lit.Done(); {
				_, cn, err := lit.Next()
				if err != nil {
					return nil, icatapi.ErrorSerialization(situation, err)
				}
				child, err := d.Decode(ctx, rel.Target, cn)
				if err != nil {
					return nil, err
				}
				e.AddChild(name, child)
			}
			continue
		}
		return nil, icatapi.ErrorUnknownField(tag, name)
	}
	return e, nil
}

// resolve maps a unique key to a live entity: session index first, then
// the remote catalogue, caching what the remote returns.
//
// Errors:
//
//    - icat-error-unresolved-reference -- when neither the index nor the remote knows the key
func (d *Decoder) resolve(ctx context.Context, key string) (*icatapi.Entity, error) {
	if d.Index != nil {
		if e, ok := d.Index.Lookup(key); ok {
			return e, nil
		}
	}
	if d.Remote == nil {
		return nil, icatapi.ErrorUnresolvedReference(key, nil)
	}
	e, err := d.Remote.Get(ctx, key)
	if err != nil {
		return nil, icatapi.ErrorUnresolvedReference(key, err)
	}
	if d.Index != nil {
		d.Index.Register(key, e)
	}
	return e, nil
}

func decodeAttr(tag icatapi.TypeName, a icatapi.Attr, vn datamodel.Node) (interface{}, error) {
	const situation = "decoding a dump record"
	mismatch := func() error {
		return icatapi.ErrorSerialization(situation,
			fmt.Errorf("field %s.%s: cannot read a %s value into a %s attribute",
				tag, a.Name, vn.Kind(), a.Kind))
	}
	switch a.Kind {
	case icatapi.KindString:
		s, err := vn.AsString()
		if err != nil {
			return nil, mismatch()
		}
		return s, nil
	case icatapi.KindDate:
		s, err := vn.AsString()
		if err != nil {
			return nil, mismatch()
		}
		t, err := icatapi.ParseTime(s)
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation,
				fmt.Errorf("field %s.%s: %w", tag, a.Name, err))
		}
		return t, nil
	case icatapi.KindInt:
		i, err := vn.AsInt()
		if err != nil {
			return nil, mismatch()
		}
		return i, nil
	case icatapi.KindFloat:
		// json and yaml both render 2.0 as 2, so integers are welcome here.
		if vn.Kind() == datamodel.Kind_Int {
			i, _ := vn.AsInt()
			return float64(i), nil
		}
		f, err := vn.AsFloat()
		if err != nil {
			return nil, mismatch()
		}
		return f, nil
	case icatapi.KindBool:
		b, err := vn.AsBool()
		if err != nil {
			return nil, mismatch()
		}
		return b, nil
	default:
		// The registry only hands out the five kinds above.
		panic(fmt.Sprintf("dumpfile: unreachable attribute kind %q", a.Kind))
	}
}
