// Package nodebuilder translates a node spec (a types.Node, which
// pkg/worker builds from a cluster profile and an index) into what a
// HostDriver needs to create it: a transformed libvirt domain XML
// document for VM nodes, or a run-argument set for container nodes.
package nodebuilder

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/clustdock/clustdock/pkg/clusterr"
	"github.com/clustdock/clustdock/pkg/types"
)

// Transform applies the spec.md §4.4 XML rewrite to baseXML and returns
// the new domain document for node n, plus the disk image path captured
// from the base domain's own disk source before it is rewritten to
// n.ImgPath.
//
// Unlike a full unmarshal/remarshal round trip, this walks the token
// stream and edits only the elements spec.md §4.4 names, copying
// everything else through verbatim — so parts of the base domain's XML
// clustdock never looks at (cpu topology, devices it doesn't recognize,
// os/boot config, graphics, and so on) survive unchanged.
//
// Idempotent: applying Transform a second time to its own output for the
// same node spec rewrites name/disk-source/memory/vcpu to the same
// values, finds no uuid or interface/mac elements left to strip (they
// were already removed), and appends an extra interface only for the
// AddIfaces entries that no <interface> already in the document covers
// (matched by source bridge name, one existing interface per entry), so
// no new <interface> elements accumulate (property P6). A base domain
// that already has an interface on one of the requested bridges
// therefore gets one fewer appended for that bridge.
func Transform(baseXML []byte, n *types.Node) (newXML []byte, baseimgPath string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(baseXML))
	var out bytes.Buffer
	enc := xml.NewEncoder(&out)

	var path []string
	top := func() string {
		if len(path) == 0 {
			return ""
		}
		return path[len(path)-1]
	}
	parent := func() string {
		if len(path) < 2 {
			return ""
		}
		return path[len(path)-2]
	}

	foundDiskSource := false
	bridgeIfaces := map[string]int{}

	for {
		tok, derr := dec.Token()
		if derr == io.EOF {
			break
		}
		if derr != nil {
			return nil, "", clusterr.Wrap(clusterr.Internal, "parsing base domain XML", derr)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)

			if t.Name.Local == "source" && parent() == "interface" {
				for _, a := range t.Attr {
					if a.Name.Local == "bridge" {
						bridgeIfaces[a.Value]++
					}
				}
			}

			switch {
			case t.Name.Local == "name" && parent() == "domain":
				if err := enc.EncodeToken(t); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding domain name", err)
				}
				if err := skipText(dec); err != nil {
					return nil, "", err
				}
				if err := enc.EncodeToken(xml.CharData(n.Name)); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding domain name", err)
				}
				continue

			case t.Name.Local == "uuid" && parent() == "domain":
				if err := skipSubtree(dec); err != nil {
					return nil, "", err
				}
				path = path[:len(path)-1]
				continue

			case t.Name.Local == "mac" && parent() == "interface":
				if err := skipSubtree(dec); err != nil {
					return nil, "", err
				}
				path = path[:len(path)-1]
				continue

			case t.Name.Local == "source" && parent() == "disk" && !foundDiskSource:
				foundDiskSource = true
				for i, a := range t.Attr {
					if a.Name.Local == "file" {
						baseimgPath = a.Value
						t.Attr[i].Value = n.ImgPath
					}
				}
				if err := enc.EncodeToken(t); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding disk source", err)
				}
				continue

			case t.Name.Local == "memory" && parent() == "domain" && n.Mem > 0:
				if err := skipSubtree(dec); err != nil {
					return nil, "", err
				}
				path = path[:len(path)-1]
				newMem := xml.StartElement{
					Name: xml.Name{Local: "memory"},
					Attr: []xml.Attr{{Name: xml.Name{Local: "unit"}, Value: "MB"}},
				}
				if err := enc.EncodeToken(newMem); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding memory", err)
				}
				if err := enc.EncodeToken(xml.CharData(fmt.Sprintf("%d", n.Mem))); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding memory", err)
				}
				if err := enc.EncodeToken(newMem.End()); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding memory", err)
				}
				continue

			case t.Name.Local == "currentMemory" && parent() == "domain" && n.Mem > 0:
				if err := skipSubtree(dec); err != nil {
					return nil, "", err
				}
				path = path[:len(path)-1]
				continue

			case t.Name.Local == "vcpu" && parent() == "domain" && n.CPU > 0:
				if err := enc.EncodeToken(t); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding vcpu", err)
				}
				if err := skipText(dec); err != nil {
					return nil, "", err
				}
				if err := enc.EncodeToken(xml.CharData(fmt.Sprintf("%d", n.CPU))); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding vcpu", err)
				}
				continue

			default:
				if err := enc.EncodeToken(t); err != nil {
					return nil, "", clusterr.Wrap(clusterr.Internal, "encoding element "+t.Name.Local, err)
				}
				continue
			}

		case xml.EndElement:
			if t.Name.Local == "devices" && top() == "devices" {
				for _, iface := range n.AddIfaces {
					if bridgeIfaces[iface.Bridge] > 0 {
						bridgeIfaces[iface.Bridge]--
						continue
					}
					if err := encodeBridgeInterface(enc, iface.Bridge); err != nil {
						return nil, "", err
					}
				}
			}
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
			if err := enc.EncodeToken(t); err != nil {
				return nil, "", clusterr.Wrap(clusterr.Internal, "encoding end element "+t.Name.Local, err)
			}

		default:
			if err := enc.EncodeToken(tok); err != nil {
				return nil, "", clusterr.Wrap(clusterr.Internal, "encoding token", err)
			}
		}
	}

	if !foundDiskSource {
		return nil, "", clusterr.New(clusterr.Internal, "base domain has no primary disk source")
	}
	if err := enc.Flush(); err != nil {
		return nil, "", clusterr.Wrap(clusterr.Internal, "flushing transformed domain XML", err)
	}
	return out.Bytes(), baseimgPath, nil
}

// skipText discards a single CharData token, if the next token is one.
// Used right after writing a StartElement whose text content we are
// about to replace wholesale.
func skipText(dec *xml.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return clusterr.Wrap(clusterr.Internal, "reading element text", err)
	}
	if _, ok := tok.(xml.CharData); !ok {
		return clusterr.New(clusterr.Internal, "expected character data")
	}
	return nil
}

// skipSubtree discards tokens through the EndElement matching the
// StartElement already consumed by the caller.
func skipSubtree(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return clusterr.Wrap(clusterr.Internal, "skipping element subtree", err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func encodeBridgeInterface(enc *xml.Encoder, bridge string) error {
	start := xml.StartElement{
		Name: xml.Name{Local: "interface"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: "bridge"}},
	}
	if err := enc.EncodeToken(start); err != nil {
		return clusterr.Wrap(clusterr.Internal, "encoding interface", err)
	}
	source := xml.StartElement{
		Name: xml.Name{Local: "source"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "bridge"}, Value: bridge}},
	}
	if err := enc.EncodeToken(source); err != nil {
		return clusterr.Wrap(clusterr.Internal, "encoding interface source", err)
	}
	if err := enc.EncodeToken(source.End()); err != nil {
		return clusterr.Wrap(clusterr.Internal, "encoding interface source", err)
	}
	model := xml.StartElement{
		Name: xml.Name{Local: "model"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: "virtio"}},
	}
	if err := enc.EncodeToken(model); err != nil {
		return clusterr.Wrap(clusterr.Internal, "encoding interface model", err)
	}
	if err := enc.EncodeToken(model.End()); err != nil {
		return clusterr.Wrap(clusterr.Internal, "encoding interface model", err)
	}
	return enc.EncodeToken(start.End())
}

// Metadata namespace URIs clustdock tags every domain it creates with
// (spec.md §6).
const (
	MetadataNamespace         = "clustdock"
	MetadataAfterEndNamespace = "clustdock.after_end"
)

// MetadataMarker is the presence-marker element content for the
// clustdock namespace.
const MetadataMarker = "<clustdock/>"

// MetadataAfterEnd renders the after_end hook path element for the
// clustdock.after_end namespace.
func MetadataAfterEnd(hookPath string) string {
	return fmt.Sprintf(`<after_end path=%q/>`, hookPath)
}
