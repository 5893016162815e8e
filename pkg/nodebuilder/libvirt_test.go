package nodebuilder

import (
	"encoding/xml"
	"testing"

	"github.com/clustdock/clustdock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseDomainXML = `<domain type="kvm">
  <name>base-web</name>
  <uuid>12345678-1234-1234-1234-123456789012</uuid>
  <memory unit="KiB">2097152</memory>
  <currentMemory unit="KiB">2097152</currentMemory>
  <vcpu placement="static">1</vcpu>
  <devices>
    <disk type="file" device="disk">
      <source file="/var/lib/libvirt/images/base-web.qcow2"/>
    </disk>
    <interface type="network">
      <source network="default"/>
      <mac address="52:54:00:11:22:33"/>
    </interface>
  </devices>
</domain>`

func transformedDoc(t *testing.T, xmlBytes []byte) map[string]interface{} {
	t.Helper()
	var generic struct {
		XMLName xml.Name `xml:"domain"`
		Name    string   `xml:"name"`
		UUID    *string  `xml:"uuid"`
		Memory  struct {
			Unit string `xml:"unit,attr"`
			Text string `xml:",chardata"`
		} `xml:"memory"`
		CurrentMemory *struct{} `xml:"currentMemory"`
		VCPU          string    `xml:"vcpu"`
		Devices       struct {
			Disk struct {
				Source struct {
					File string `xml:"file,attr"`
				} `xml:"source"`
			} `xml:"disk"`
			Interfaces []struct {
				Type   string    `xml:"type,attr"`
				Mac    *struct{} `xml:"mac"`
				Source struct {
					Bridge string `xml:"bridge,attr"`
				} `xml:"source"`
			} `xml:"interface"`
		} `xml:"devices"`
	}
	require.NoError(t, xml.Unmarshal(xmlBytes, &generic))
	out := map[string]interface{}{
		"name":         generic.Name,
		"uuid":         generic.UUID,
		"memUnit":      generic.Memory.Unit,
		"memText":      generic.Memory.Text,
		"curMem":       generic.CurrentMemory,
		"vcpu":         generic.VCPU,
		"diskFile":     generic.Devices.Disk.Source.File,
		"ifaceCount":   len(generic.Devices.Interfaces),
		"interfaces":   generic.Devices.Interfaces,
	}
	return out
}

func TestTransformRenamesAndStripsIdentity(t *testing.T) {
	n := &types.Node{
		Name:    "web0",
		ImgPath: "/data/vms/web0.qcow2",
	}
	newXML, baseimg, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/libvirt/images/base-web.qcow2", baseimg)

	doc := transformedDoc(t, newXML)
	assert.Equal(t, "web0", doc["name"])
	assert.Nil(t, doc["uuid"])
	assert.Equal(t, "/data/vms/web0.qcow2", doc["diskFile"])
	assert.Equal(t, 1, doc["ifaceCount"])
}

func TestTransformStripsMacElements(t *testing.T) {
	n := &types.Node{Name: "web0", ImgPath: "/data/vms/web0.qcow2"}
	newXML, _, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)
	assert.NotContains(t, string(newXML), "<mac")
}

func TestTransformAppendsExtraInterfaces(t *testing.T) {
	n := &types.Node{
		Name:    "web0",
		ImgPath: "/data/vms/web0.qcow2",
		AddIfaces: []types.IfaceSpec{
			{Bridge: "br-clust"},
		},
	}
	newXML, _, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)
	doc := transformedDoc(t, newXML)
	assert.Equal(t, 2, doc["ifaceCount"])
}

func TestTransformSetsMemoryAndDropsCurrentMemory(t *testing.T) {
	n := &types.Node{Name: "web0", ImgPath: "/data/vms/web0.qcow2", Mem: 4096}
	newXML, _, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)
	doc := transformedDoc(t, newXML)
	assert.Equal(t, "MB", doc["memUnit"])
	assert.Equal(t, "4096", doc["memText"])
	assert.Nil(t, doc["curMem"])
}

func TestTransformSetsVCPU(t *testing.T) {
	n := &types.Node{Name: "web0", ImgPath: "/data/vms/web0.qcow2", CPU: 4}
	newXML, _, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)
	doc := transformedDoc(t, newXML)
	assert.Equal(t, "4", doc["vcpu"])
}

func TestTransformIdempotent(t *testing.T) {
	n := &types.Node{
		Name:    "web0",
		ImgPath: "/data/vms/web0.qcow2",
		Mem:     4096,
		CPU:     2,
		AddIfaces: []types.IfaceSpec{
			{Bridge: "br-clust"},
		},
	}
	once, _, err := Transform([]byte(baseDomainXML), n)
	require.NoError(t, err)

	twice, _, err := Transform(once, n)
	require.NoError(t, err)

	docOnce := transformedDoc(t, once)
	docTwice := transformedDoc(t, twice)
	assert.Equal(t, docOnce["name"], docTwice["name"])
	assert.Equal(t, docOnce["diskFile"], docTwice["diskFile"])
	assert.Equal(t, docOnce["memText"], docTwice["memText"])
	assert.Equal(t, docOnce["ifaceCount"], docTwice["ifaceCount"])
}
