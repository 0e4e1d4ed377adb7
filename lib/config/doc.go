// Copyright 2026 The Xuehua Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the xuehua command.
//
// A configuration file is named by the --config flag or the
// XUEHUA_CONFIG environment variable. There is no file discovery: with
// neither set, [Resolve] returns [Default]. Values in the file are
// never overridden by the environment.
//
// After loading, ${HOME}, ${XUEHUA_ROOT} and ${VAR:-default} patterns
// in path fields are expanded. ${XUEHUA_ROOT} is the top-level root
// value, so
//
//	root: /srv/xuehua
//	store:
//	  root: ${XUEHUA_ROOT}/store
//	compression:
//	  level: 19
//	  dictionary: external
//	  dictionary_file: ${XUEHUA_ROOT}/dictionaries/base.zdict
//	signing:
//	  key: ${HOME}/.config/xuehua/release
//	  trusted:
//	    - ${HOME}/.config/xuehua/release.pub
//
// places the store under /srv/xuehua.
//
// This package depends on no other Xuehua packages.
package config
