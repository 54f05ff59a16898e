package driver

import (
	"encoding/json"
	"fmt"
)

// Selectors into Colab's frontend. They track the current production
// DOM; run_diagnostics surfaces breakage when Colab changes them.
const (
	connectButtonSelector = "colab-connect-button"
	addCodeCellSelector   = "#toolbar-add-code"
	editorInputSelector   = "div.cell.focused textarea.inputarea"
	uploadInputSelector   = "input[type='file']"
)

// stealthScript masks the most common automation tell before any page
// script runs.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// clickConnectScript clicks the runtime connect button when it offers a
// connection. It returns true when a click was issued.
const clickConnectScript = `(function() {
	const btn = document.querySelector('colab-connect-button');
	if (!btn) return false;
	const inner = btn.shadowRoot ? btn.shadowRoot.querySelector('#connect') : null;
	const target = inner || btn;
	const label = (target.innerText || btn.textContent || '').trim();
	if (/connect/i.test(label) && !/connected|connecting/i.test(label)) {
		target.click();
		return true;
	}
	return false;
})()`

// connectStateScript reads the runtime connection state off the connect
// button. Once connected the button shows resource gauges instead of
// the word "Connect".
const connectStateScript = `(function() {
	const btn = document.querySelector('colab-connect-button');
	if (!btn) return {connected: false, text: 'no connect button'};
	const text = ((btn.shadowRoot && btn.shadowRoot.textContent) || btn.textContent || '').trim();
	if (/connecting|allocating|initializing/i.test(text)) {
		return {connected: false, text: text};
	}
	const connected = /ram|disk|connected/i.test(text);
	return {connected: connected, text: text};
})()`

// readCellStateScript inspects the last code cell, the one the driver
// just added and ran.
const readCellStateScript = `(function() {
	const cells = document.querySelectorAll('div.cell.code');
	if (!cells.length) {
		return {running: false, output: '', hasError: true, errorText: 'no code cells on page'};
	}
	const cell = cells[cells.length - 1];
	const running = cell.classList.contains('running') ||
		cell.classList.contains('pending') ||
		!!cell.querySelector('.cell-execution.running');
	const outputEl = cell.querySelector('.output, .output-content');
	const output = outputEl ? outputEl.innerText : '';
	const errorEl = cell.querySelector('.output .error, .output-error, .output .stream-stderr');
	return {
		running: running,
		output: output,
		hasError: !!errorEl,
		errorText: errorEl ? errorEl.innerText : ''
	};
})()`

// openFilePaneScript opens the file browser in the left sidebar so the
// upload input becomes reachable. Returns true when the pane toggle was
// found.
const openFilePaneScript = `(function() {
	const btn = document.querySelector(
		'#file-tree-button, md-icon-button[aria-label*="Files"], paper-icon-button[aria-label*="Files"], [aria-label="Files"]');
	if (!btn) return false;
	btn.click();
	return true;
})()`

// loginStateScript reports whether the current page belongs to a
// signed-in Google session. The account chip only renders for signed-in
// users.
const loginStateScript = `(function() {
	if (/accounts\.google\.com|ServiceLogin|\/signin/.test(window.location.href)) {
		return {signedIn: false};
	}
	const avatar = document.querySelector(
		'#gb img, img[alt*="profile" i], a[aria-label*="Google Account" i]');
	const signInLink = document.querySelector(
		'a[href*="accounts.google.com/ServiceLogin"], a[href*="signin"]');
	return {signedIn: !!avatar && !signInLink};
})()`

// fileVisibleScript builds a script that checks whether a file with the
// given name shows up in the file browser tree.
func fileVisibleScript(name string) string {
	quoted, _ := json.Marshal(name)
	return fmt.Sprintf(`(function(name) {
	const nodes = document.querySelectorAll('.file-tree .name, colab-file-browser .name, [role="treeitem"]');
	for (const n of nodes) {
		if (n.textContent.trim() === name) return true;
	}
	return false;
})(%s)`, quoted)
}
