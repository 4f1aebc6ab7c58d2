package dom

// JS snippets evaluated in the page context by the Rod binding. Observer
// callbacks buffer into a window-scoped registry keyed by token; the Go side
// drains the buffers on a ticker. Matched insertions are tagged with a
// data-autobranch-hit attribute so they can be resolved back to elements.

const installInsertionObserverJS = `function (token, selector) {
	const w = window;
	w.__autobranch = w.__autobranch || { seq: 0, buf: {}, ticks: {}, obs: {} };
	const reg = w.__autobranch;
	if (reg.obs[token]) return true;
	reg.buf[token] = [];
	const report = (el) => {
		const n = ++reg.seq;
		try { el.setAttribute('data-autobranch-hit', String(n)); } catch (e) { return; }
		reg.buf[token].push(n);
	};
	const obs = new MutationObserver((mutations) => {
		for (const m of mutations) {
			if (m.type !== 'childList') continue;
			for (const node of m.addedNodes) {
				if (!node || node.nodeType !== 1) continue;
				if (node.matches && node.matches(selector)) { report(node); continue; }
				if (node.querySelector) {
					const hit = node.querySelector(selector);
					if (hit) report(hit);
				}
			}
		}
	});
	obs.observe(this, { childList: true, subtree: true });
	reg.obs[token] = obs;
	return true;
}`

const installMutationObserverJS = `function (token) {
	const w = window;
	w.__autobranch = w.__autobranch || { seq: 0, buf: {}, ticks: {}, obs: {} };
	const reg = w.__autobranch;
	if (reg.obs[token]) return true;
	reg.ticks[token] = 0;
	const obs = new MutationObserver(() => { reg.ticks[token]++; });
	obs.observe(this, { childList: true, subtree: true, characterData: true, attributes: true });
	reg.obs[token] = obs;
	return true;
}`

const drainInsertionsJS = `function (token) {
	const reg = window.__autobranch;
	if (!reg || !reg.buf[token]) return [];
	const out = reg.buf[token];
	reg.buf[token] = [];
	return out;
}`

const drainTicksJS = `function (token) {
	const reg = window.__autobranch;
	if (!reg || !(token in reg.ticks)) return 0;
	const n = reg.ticks[token];
	reg.ticks[token] = 0;
	return n;
}`

const disconnectObserverJS = `function (token) {
	const reg = window.__autobranch;
	if (!reg) return false;
	const obs = reg.obs[token];
	if (obs) obs.disconnect();
	delete reg.obs[token];
	delete reg.buf[token];
	delete reg.ticks[token];
	return true;
}`

// setNativeValueJS writes through the native prototype setter so frameworks
// that intercept the instance property (React and friends) still see the
// change, then notifies their state layer via synthetic input/change events.
const setNativeValueJS = `function (value) {
	const proto = (this instanceof HTMLTextAreaElement)
		? HTMLTextAreaElement.prototype
		: HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) {
		desc.set.call(this, value);
	} else {
		this.value = value;
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const focusAndSelectJS = `function () {
	this.focus();
	if (typeof this.select === 'function') this.select();
	return true;
}`

// attachCopyControlJS appends a copy button after the field. The button reads
// the field's value at click time and flips its label briefly on success.
const attachCopyControlJS = `function (label) {
	const next = this.nextElementSibling;
	if (next && next.hasAttribute && next.hasAttribute('data-autobranch-copy')) return true;
	const field = this;
	const btn = document.createElement('button');
	btn.type = 'button';
	btn.textContent = label;
	btn.setAttribute('data-autobranch-copy', '1');
	btn.addEventListener('click', () => {
		const v = field.value || '';
		navigator.clipboard.writeText(v).then(() => {
			const prev = btn.textContent;
			btn.textContent = '✓';
			setTimeout(() => { btn.textContent = prev; }, 1500);
		}).catch(() => {});
	});
	field.insertAdjacentElement('afterend', btn);
	return true;
}`
