package webcheck

// JS snippets evaluated inside the console page. The console is a Semi-UI
// React app, so element lookup leans on semi-* class names and on visible
// text, with progressively fuzzier fallbacks.

const closePopupJS = `() => {
	const closeBtn = document.querySelector('.semi-modal-close');
	if (closeBtn && closeBtn.offsetParent !== null) {
		closeBtn.click();
		return true;
	}
	for (const btn of Array.from(document.querySelectorAll('button'))) {
		const text = (btn.textContent || '').trim();
		if (text.includes('今日关闭') || text.includes('关闭公告') || text.includes('关闭')) {
			btn.click();
			return true;
		}
	}
	return false;
}`

const loginErrorJS = `() => {
	const selectors = ['.error-message', '.alert-danger', '.toast-error', '[role="alert"]'];
	for (const selector of selectors) {
		const node = document.querySelector(selector);
		if (!node) continue;
		const text = (node.innerText || node.textContent || '').trim();
		if (text) return text;
	}
	return '';
}`

const skeletonGoneJS = `() => !document.querySelector('.semi-skeleton')`

// extractBalanceJS walks the dashboard looking for a dollar amount, from the
// most specific known selectors down to a body-text regex. Returns "$X.Y" or
// an empty string.
const extractBalanceJS = `() => {
	function fromMatch(text) {
		const match = String(text || '').match(/\$([\d,]+\.?\d*)/);
		if (!match) return '';
		const value = parseFloat(String(match[1] || '').replace(/,/g, ''));
		if (Number.isFinite(value) && value > 0) return '$' + value.toFixed(1);
		return '';
	}

	const knownSelectors = [
		'.balance-amount', '[data-balance]', '.amount-display', '.wallet-balance',
		'.user-balance', '.account-balance', '.current-balance',
		'span[class*="balance"]', 'div[class*="balance"]'
	];
	for (const selector of knownSelectors) {
		try {
			for (const elem of document.querySelectorAll(selector)) {
				const text = String(elem.textContent || '');
				if (!text.includes('$')) continue;
				const found = fromMatch(text);
				if (found) return found;
			}
		} catch (e) {}
	}

	const balanceTexts = ['当前余额', 'Current Balance', '余额', 'Balance'];
	for (const key of balanceTexts) {
		try {
			const xpath = '//*[contains(text(), \'' + key + '\')]';
			const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!node || !node.parentElement) continue;
			for (const sibling of Array.from(node.parentElement.children)) {
				const found = fromMatch(sibling.textContent);
				if (found) return found;
			}
			const found = fromMatch(node.parentElement.textContent);
			if (found) return found;
		} catch (e) {}
	}

	const largeTextSelectors = [
		'.text-lg', '.text-xl', '.text-2xl', '.text-3xl', 'h1', 'h2', 'h3',
		'[style*="font-size: 2"]', '[style*="font-size: 3"]'
	];
	for (const selector of largeTextSelectors) {
		for (const elem of document.querySelectorAll(selector)) {
			const text = String(elem.textContent || '').trim();
			if (!/^\$\s*[\d,]+\.?\d*$/.test(text)) continue;
			const value = parseFloat(text.replace(/[$,\s]/g, ''));
			if (Number.isFinite(value) && value > 0) return '$' + value.toFixed(1);
		}
	}

	const containerSelectors = ['.dashboard', '.console', '.account-info', '.user-panel', '.wallet', 'main', '#app'];
	for (const containerSel of containerSelectors) {
		const container = document.querySelector(containerSel);
		if (!container) continue;
		for (const node of container.querySelectorAll('span, div, p')) {
			if (node.childElementCount !== 0) continue;
			const text = String(node.textContent || '').trim();
			if (!/^\$\s*[\d,]+\.?\d*$/.test(text)) continue;
			const value = parseFloat(text.replace(/[$,\s]/g, ''));
			if (Number.isFinite(value) && value > 0) return '$' + value.toFixed(1);
		}
	}

	const bodyText = (document.body && document.body.innerText) ? document.body.innerText : '';
	const patterns = [
		/当前余额[：:\s]*\$([\d,]+\.?\d*)/,
		/余额[：:\s]*\$([\d,]+\.?\d*)/,
		/Balance[：:\s]*\$([\d,]+\.?\d*)/i
	];
	for (const pattern of patterns) {
		const match = bodyText.match(pattern);
		if (match) {
			const value = parseFloat(String(match[1] || '').replace(/,/g, ''));
			if (Number.isFinite(value) && value > 0) return '$' + value.toFixed(1);
		}
	}
	return '';
}`

const pageDiagJS = `() => {
	const url = window.location.href || '';
	const body = (document.body && document.body.innerText) || '';
	return { url: url, snippet: body.substring(0, 500).replace(/\s+/g, ' ') };
}`

const clickTokenMenuJS = `() => {
	const xpath = "//*[self::a or self::button or self::span or self::div][normalize-space(text())='API令牌']";
	const node = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!node) return false;
	let clickable = node;
	while (clickable) {
		const tag = (clickable.tagName || '').toLowerCase();
		const role = clickable.getAttribute ? (clickable.getAttribute('role') || '').toLowerCase() : '';
		const cls = clickable.className ? String(clickable.className).toLowerCase() : '';
		if (tag === 'a' || tag === 'button' || role === 'button' || cls.includes('semi-navigation-item')) break;
		clickable = clickable.parentElement;
	}
	(clickable || node).click();
	return true;
}`

const tokenPageLoadedJS = `() => {
	const text = document.body && document.body.innerText ? document.body.innerText : '';
	const onTokenPage = (window.location && window.location.href || '').includes('/console/token');
	return text.includes('添加令牌') || text.includes('复制所选令牌到剪贴板') || onTokenPage;
}`

const tokenRowStateJS = `() => {
	function isVisible(node) {
		if (!node) return false;
		const style = window.getComputedStyle(node);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = node.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}
	function norm(text) { return String(text || '').replace(/\s+/g, ' ').trim(); }
	function isNoData(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('暂无数据') || lower.includes('no data') || lower.includes('no records') || lower.includes('empty');
	}
	function isEditLike(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('编辑') || lower.includes('修改') || lower.includes('edit');
	}
	function isCopyLike(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('复制') || lower.includes('拷贝') || lower.includes('copy');
	}
	function isTokenRow(row) {
		const text = norm(row.innerText);
		if (!text || row.querySelector('th') || isNoData(text)) return false;
		const actionTexts = Array.from(row.querySelectorAll('button, a, [role="button"], span, div, i'))
			.map((node) => norm(node.innerText || node.textContent || ''))
			.filter((item) => !!item);
		if (actionTexts.some(isCopyLike) && actionTexts.some(isEditLike)) return true;
		const lower = text.toLowerCase();
		return (text.includes('已启用') || lower.includes('enabled')) &&
			(text.includes('用户分组') || lower.includes('group')) && isEditLike(text);
	}
	const rows = Array.from(document.querySelectorAll('tbody tr, .semi-table-tbody .semi-table-row, .semi-table-row'))
		.filter((row) => isVisible(row) && isTokenRow(row));
	return {
		hasTokenRow: rows.length > 0,
		hasEmptyState: isNoData((document.body && document.body.innerText) || '')
	};
}`

const clickFirstEditJS = `() => {
	function isVisible(node) {
		if (!node) return false;
		const style = window.getComputedStyle(node);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = node.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}
	function norm(text) { return String(text || '').replace(/\s+/g, ' ').trim(); }
	function isEditLike(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('编辑') || lower.includes('修改') || lower.includes('edit');
	}
	function isCopyLike(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('复制') || lower.includes('拷贝') || lower.includes('copy');
	}
	function isNoData(text) {
		const lower = norm(text).toLowerCase();
		return lower.includes('暂无数据') || lower.includes('no data') || lower.includes('no records') || lower.includes('empty');
	}
	function isTokenRow(row) {
		const text = norm(row.innerText);
		if (!text || row.querySelector('th') || isNoData(text)) return false;
		const actionTexts = Array.from(row.querySelectorAll('button, a, [role="button"], span, div, i'))
			.map((node) => norm(node.innerText || node.textContent || ''))
			.filter((item) => !!item);
		if (actionTexts.some(isCopyLike) && actionTexts.some(isEditLike)) return true;
		const lower = text.toLowerCase();
		return (text.includes('已启用') || lower.includes('enabled')) &&
			(text.includes('用户分组') || lower.includes('group')) && isEditLike(text);
	}
	function toClickable(node) {
		let cursor = node;
		while (cursor) {
			const tag = (cursor.tagName || '').toLowerCase();
			const role = cursor.getAttribute ? (cursor.getAttribute('role') || '').toLowerCase() : '';
			if (tag === 'button' || tag === 'a' || role === 'button') return cursor;
			cursor = cursor.parentElement;
		}
		return node;
	}
	const rows = Array.from(document.querySelectorAll('tbody tr, .semi-table-tbody .semi-table-row, .semi-table-row'))
		.filter((row) => isVisible(row) && isTokenRow(row));
	if (!rows.length) return { clicked: false, reason: 'no_token_row' };
	const row = rows[0];
	row.scrollIntoView({ block: 'center', inline: 'nearest' });
	row.dispatchEvent(new MouseEvent('mouseenter', { bubbles: true, cancelable: true, view: window }));
	row.dispatchEvent(new MouseEvent('mouseover', { bubbles: true, cancelable: true, view: window }));

	const exact = [];
	const fuzzy = [];
	for (const node of Array.from(row.querySelectorAll('button, a, [role="button"], span, div'))) {
		const text = norm(node.innerText || node.textContent || '');
		if (!text || !isEditLike(text) || !isVisible(node)) continue;
		if (isCopyLike(text) && !(text.toLowerCase() === '编辑' || text.toLowerCase() === 'edit')) continue;
		const clickable = toClickable(node);
		if (!isVisible(clickable) || clickable.disabled) continue;
		const exactText = text.toLowerCase() === '编辑' || text.toLowerCase() === 'edit';
		const bucket = exactText ? exact : fuzzy;
		if (!bucket.includes(clickable)) bucket.push(clickable);
	}
	const candidates = exact.concat(fuzzy);
	if (!candidates.length) return { clicked: false, reason: 'row_no_direct_edit' };

	const target = candidates[0];
	target.scrollIntoView({ block: 'center', inline: 'center' });
	const rect = target.getBoundingClientRect();
	const x = Math.floor(rect.left + rect.width / 2);
	const y = Math.floor(rect.top + rect.height / 2);
	for (const name of ['pointerover', 'mouseover', 'pointerdown', 'mousedown', 'pointerup', 'mouseup', 'click']) {
		const Ctor = name.startsWith('pointer') ? PointerEvent : MouseEvent;
		target.dispatchEvent(new Ctor(name, { bubbles: true, cancelable: true, view: window, clientX: x, clientY: y }));
	}
	if (typeof target.click === 'function') target.click();
	return { clicked: true, reason: 'row_direct' };
}`

const editorOpenJS = `() => {
	function isVisible(node) {
		if (!node) return false;
		const style = window.getComputedStyle(node);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = node.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}
	const hasEditorHeader = Array.from(document.querySelectorAll('*')).some((node) => {
		if (!isVisible(node)) return false;
		const text = (node.textContent || '').trim();
		return text.includes('更新令牌信息') || text.includes('额度设置') || text.includes('编辑令牌');
	});
	const hasQuotaLabel = Array.from(document.querySelectorAll('*')).some((node) => {
		if (!isVisible(node)) return false;
		return (node.textContent || '').trim() === '额度';
	});
	const hasSubmit = Array.from(document.querySelectorAll('button, [role="button"]')).some((btn) => {
		if (!isVisible(btn) || btn.disabled) return false;
		return ((btn.innerText || btn.textContent || '').trim()).includes('提交');
	});
	return hasEditorHeader || (hasQuotaLabel && hasSubmit);
}`

const modalRootJS = `
	function isVisible(node) {
		if (!node) return false;
		const style = window.getComputedStyle(node);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = node.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}
	function locateRoot() {
		const roots = Array.from(document.querySelectorAll(
			'.semi-modal-content, .semi-modal, .semi-sidesheet, .semi-sidesheet-content, .semi-sideSheet, [class*="sidesheet"], [class*="sideSheet"], [role="dialog"]'
		));
		let root = roots.find((item) => item && isVisible(item) && (
			(item.innerText || '').includes('更新令牌信息') || (item.innerText || '').includes('额度设置')
		));
		if (!root) root = roots.find((item) => item && isVisible(item));
		return root || document.body;
	}
`

const detectQuotaRateJS = `() => {` + modalRootJS + `
	const root = locateRoot();
	const text = root.innerText || '';
	const amountMatch = text.match(/等价金额[:：]\s*\$\s*(-?[\d,.]+)/);
	const amountValue = amountMatch ? Number((amountMatch[1] || '').replace(/,/g, '')) : null;

	const labels = Array.from(root.querySelectorAll('*')).filter((el) => (el.textContent || '').trim() === '额度');
	let quotaValue = null;
	for (const label of labels) {
		let node = label;
		for (let i = 0; i < 6 && node; i += 1) {
			const parent = node.parentElement;
			if (!parent) break;
			const input = parent.querySelector('input');
			if (input && isVisible(input)) {
				const raw = (input.value || '').replace(/,/g, '').trim();
				if (raw && !Number.isNaN(Number(raw))) { quotaValue = Number(raw); }
				break;
			}
			node = parent;
		}
		if (quotaValue !== null) break;
	}
	return { quotaValue: quotaValue, amountValue: amountValue };
}`

const setQuotaValueJS = `(targetQuota) => {` + modalRootJS + `
	function norm(text) { return String(text || '').replace(/\s+/g, ' ').trim(); }
	function digits(text) { return String(text || '').replace(/[,\s]/g, '').trim(); }
	function writable(input) {
		if (!input || !isVisible(input) || input.disabled) return false;
		return String(input.type || '').toLowerCase() !== 'hidden';
	}
	function write(input, value) {
		try { input.removeAttribute('readonly'); } catch (e) {}
		const descriptor = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value');
		if (descriptor && descriptor.set) { descriptor.set.call(input, value); } else { input.value = value; }
		input.dispatchEvent(new Event('input', { bubbles: true }));
		input.dispatchEvent(new Event('change', { bubbles: true }));
		input.dispatchEvent(new Event('blur', { bubbles: true }));
		input.dispatchEvent(new KeyboardEvent('keyup', { bubbles: true, key: 'Enter', code: 'Enter' }));
	}
	const root = locateRoot();
	const candidates = [];
	function add(input) {
		if (writable(input) && !candidates.includes(input)) candidates.push(input);
	}
	for (const label of Array.from(root.querySelectorAll('*')).filter((el) => norm(el.textContent) === '额度')) {
		let node = label;
		for (let i = 0; i < 8 && node; i += 1) {
			const parent = node.parentElement;
			if (!parent) break;
			const input = parent.querySelector('input');
			if (input) add(input);
			node = parent;
		}
	}
	for (const input of Array.from(root.querySelectorAll('input'))) {
		const haystack = [
			input.getAttribute('placeholder') || '', input.getAttribute('name') || '',
			input.getAttribute('id') || '', input.getAttribute('aria-label') || '',
			input.className || ''
		].join(' ').toLowerCase();
		if (haystack.includes('额度') || haystack.includes('quota') || haystack.includes('limit')) add(input);
	}
	for (const input of Array.from(root.querySelectorAll('input'))) add(input);

	if (!candidates.length) return { ok: false, reason: 'quota_input_not_found' };
	const target = String(targetQuota);
	for (const input of candidates) {
		try { input.focus(); } catch (e) {}
		write(input, target);
		if (digits(input.value || '') === digits(target)) {
			return { ok: true, reason: 'written' };
		}
	}
	return { ok: false, reason: 'write_verify_failed' };
}`

const submitQuotaModalJS = `() => {` + modalRootJS + `
	const root = locateRoot();
	const btn = Array.from(root.querySelectorAll('button')).find((node) => {
		const text = (node.innerText || node.textContent || '').trim();
		return text.includes('提交') && isVisible(node) && !node.disabled;
	});
	if (!btn) return false;
	btn.click();
	return true;
}`

const modalStillOpenJS = `() => {
	function isVisible(node) {
		if (!node) return false;
		const style = window.getComputedStyle(node);
		if (style.display === 'none' || style.visibility === 'hidden') return false;
		const rect = node.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	}
	const roots = Array.from(document.querySelectorAll(
		'.semi-modal-content, .semi-modal, .semi-sidesheet, .semi-sidesheet-content, .semi-sideSheet, [class*="sidesheet"], [class*="sideSheet"], [role="dialog"]'
	)).filter(isVisible);
	return roots.some((root) => {
		const text = root.innerText || '';
		return text.includes('更新令牌信息') || text.includes('额度设置') || text.includes('编辑令牌');
	});
}`
