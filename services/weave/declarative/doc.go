// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package declarative implements aspects described in YAML, so the weave
// CLI can weave a program without compiled aspect code.
//
// Each entry names an aspect class declared in the program and lists the
// rules its BuildAspect applies to the instance target:
//
//	aspects:
//	  - class: Trace
//	    eligible: [method, type]
//	    layers: [late]
//	    rules:
//	      - action: override
//	        template: Around
//	        members: {kind: method, name: "Save*", access: public}
//	      - action: introduce-field
//	        template: counter
//	        name: calls
//	        layer: late
//	  - class: Audit
//	    rules:
//	      - action: require
//	        aspect: Trace
//
// Actions are override, override-accessors, introduce-method,
// introduce-field, introduce-property, introduce-event, implement and
// require. A rule with a members selector applies to the matching
// members of the target type (or of the target's containing type);
// without one it applies to the target itself.
package declarative
