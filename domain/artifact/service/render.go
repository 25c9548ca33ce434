// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"time"

	"github.com/go-glare/glare/domain/artifact"
	"github.com/go-glare/glare/internal/artifacttype"
)

// Render serializes an artifact into its API representation: every
// declared attribute appears, absent values as null. Blob slots render
// their metadata object; backend URLs and row ids never leak.
func Render(d *artifacttype.Descriptor, af *artifact.Artifact) map[string]any {
	out := make(map[string]any)
	for _, attr := range d.Attributes() {
		name := attr.Name
		switch name {
		case "id":
			out[name] = af.ID
		case "name":
			out[name] = af.Name
		case "version":
			out[name] = af.Version
		case "owner":
			out[name] = af.Owner
		case "status":
			out[name] = string(af.Status)
		case "visibility":
			out[name] = string(af.Visibility)
		case "description":
			out[name] = af.Description
		case "created_at":
			out[name] = renderTime(af.CreatedAt)
		case "updated_at":
			out[name] = renderTime(af.UpdatedAt)
		case "activated_at":
			if af.ActivatedAt == nil {
				out[name] = nil
			} else {
				out[name] = renderTime(*af.ActivatedAt)
			}
		case "tags":
			tags := af.Tags
			if tags == nil {
				tags = []string{}
			}
			out[name] = tags
		default:
			switch attr.Kind {
			case artifacttype.KindBlob:
				out[name] = RenderBlob(af.Blobs[name])
			case artifacttype.KindBlobDict:
				entries := make(map[string]any)
				for key, b := range af.BlobDicts[name] {
					entries[key] = RenderBlob(b)
				}
				out[name] = entries
			default:
				value, ok := af.Properties[name]
				if !ok {
					out[name] = nil
					continue
				}
				out[name] = value
			}
		}
	}
	return out
}

// RenderBlob serializes a blob slot's metadata, nil for empty slots.
func RenderBlob(b *artifact.Blob) any {
	if b == nil {
		return nil
	}
	var size, checksum any
	if b.Size != nil {
		size = *b.Size
	}
	if b.Checksum != nil {
		checksum = *b.Checksum
	}
	return map[string]any{
		"size":         size,
		"checksum":     checksum,
		"external":     b.External,
		"status":       string(b.Status),
		"content_type": b.ContentType,
	}
}

func renderTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
