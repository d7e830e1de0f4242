// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// blockdrop sends files between two peers over WebRTC data channels
package main

import "blockdrop/cmd"

func main() {
	cmd.Execute()
}
