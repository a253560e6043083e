// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aspect holds the compile-time description of aspect kinds.
//
// An aspect is a type declaration carrying the Aspect attribute, paired
// with a user implementation. The Registry turns each pair into a Class:
// its template table (members marked Template, Introduce or
// InterfaceMember, inherited from the base aspect class), its ordered
// layers, and the declaration kinds it is eligible for. Eligibility comes
// from the capability interfaces the implementation satisfies
// (MethodAspect, TypeAspect, ...) or from EligibilityProvider.
//
// An Instance is one application of a Class to one declaration. Instances
// are produced by the source package and consumed by the advice package.
package aspect
