// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package artifacttype

import (
	"github.com/go-glare/glare/domain/artifact"
)

// SampleArtifact returns the conformance type exercising every
// attribute kind and validator. It ships with the default development
// configuration and backs the functional test suite.
func SampleArtifact() *Descriptor {
	all := artifact.AllFilterOps
	eq := []artifact.FilterOp{artifact.OpEq}
	none := []artifact.FilterOp{}

	d, err := NewDescriptor("sample_artifact", "1.0", []*Attribute{
		{Name: "blob", Kind: KindBlob, Mutable: true, FilterOps: none},
		{Name: "small_blob", Kind: KindBlob, Mutable: true, MaxBlobSize: 10, FilterOps: none},
		{Name: "dependency1", Kind: KindDependency, FilterOps: none},
		{Name: "dependency2", Kind: KindDependency, FilterOps: none},
		{Name: "bool1", Kind: KindBool, Default: false, HasDefault: true, FilterOps: eq},
		{Name: "bool2", Kind: KindBool, Default: false, HasDefault: true, FilterOps: eq},
		{Name: "int1", Kind: KindInt, Sortable: true, FilterOps: all},
		{Name: "int2", Kind: KindInt, Sortable: true, FilterOps: all},
		{Name: "float1", Kind: KindFloat, Sortable: true, FilterOps: all},
		{Name: "float2", Kind: KindFloat, Sortable: true, FilterOps: all},
		{Name: "str1", Kind: KindString, Sortable: true, FilterOps: all},
		{Name: "list_of_str", Kind: KindList, Element: KindString, FilterOps: eq},
		{Name: "list_of_int", Kind: KindList, Element: KindInt, FilterOps: eq},
		{Name: "dict_of_str", Kind: KindDict, Element: KindString, FilterOps: eq},
		{Name: "dict_of_int", Kind: KindDict, Element: KindInt, FilterOps: eq},
		{Name: "dict_of_blobs", Kind: KindBlobDict},
		{Name: "string_mutable", Kind: KindString, Mutable: true, FilterOps: all},
		{Name: "string_required", Kind: KindString, RequiredOnActivate: true, FilterOps: all},
		{Name: "string_validators", Kind: KindString, FilterOps: all,
			Validators: []Validator{MaxStrLen(10)}},
		{Name: "list_validators", Kind: KindList, Element: KindString, FilterOps: none,
			Validators: []Validator{MaxSize(3), Unique()}},
		{Name: "dict_validators", Kind: KindDict, Element: KindString, FilterOps: none,
			Default: nil, HasDefault: true,
			Validators: []Validator{MaxSize(3), AllowedDictKeys("abc", "def", "ghi", "jkl")}},
		{Name: "system_attribute", Kind: KindString, System: true, Sortable: true,
			Default: "default", HasDefault: true},
	})
	if err != nil {
		panic(err)
	}
	return d
}
