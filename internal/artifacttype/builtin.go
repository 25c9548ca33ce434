// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"github.com/go-glare/glare/domain/artifact"
)

// BuiltinTypes returns the production artifact types enabled by
// default: images, orchestration templates and TOSCA templates.
func BuiltinTypes() []*Descriptor {
	return []*Descriptor{imageType(), heatTemplateType(), toscaTemplateType()}
}

func imageType() *Descriptor {
	all := artifact.AllFilterOps
	d, err := NewDescriptor("image", "1.0", []*Attribute{
		{Name: "image", Kind: KindBlob, RequiredOnActivate: true},
		{Name: "container_format", Kind: KindString,
			Validators: []Validator{AllowedValues("ami", "ari", "aki", "bare", "ovf", "ova", "docker")}},
		{Name: "disk_format", Kind: KindString,
			Validators: []Validator{AllowedValues("ami", "ari", "aki", "vhd", "vhdx", "vmdk", "raw", "qcow2", "vdi", "iso")}},
		{Name: "min_ram", Kind: KindInt, Sortable: true, FilterOps: all,
			Validators: []Validator{MinNumberSize(0)}},
		{Name: "min_disk", Kind: KindInt, Sortable: true, FilterOps: all,
			Validators: []Validator{MinNumberSize(0)}},
		{Name: "instance_uuid", Kind: KindString,
			Validators: []Validator{IsUUID()}},
		{Name: "architecture", Kind: KindString},
		{Name: "os_distro", Kind: KindString},
		{Name: "os_version", Kind: KindString},
	})
	if err != nil {
		panic(err)
	}
	return d
}

func heatTemplateType() *Descriptor {
	d, err := NewDescriptor("heat_template", "1.0", []*Attribute{
		{Name: "template", Kind: KindBlob, RequiredOnActivate: true},
		{Name: "nested_templates", Kind: KindBlobDict},
		{Name: "environments", Kind: KindBlobDict},
		{Name: "template_version", Kind: KindString, Sortable: true},
		{Name: "default_parameters", Kind: KindDict, Element: KindString},
	})
	if err != nil {
		panic(err)
	}
	return d
}

func toscaTemplateType() *Descriptor {
	d, err := NewDescriptor("tosca_template", "1.0", []*Attribute{
		{Name: "template", Kind: KindBlob, RequiredOnActivate: true},
		{Name: "template_format", Kind: KindString, RequiredOnActivate: true},
	})
	if err != nil {
		panic(err)
	}
	return d
}
